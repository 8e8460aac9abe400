package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ValueMelody/melody-auth-sub004/pkg/jwtx"
)

// InitAuthKeys builds the signing key set. When a PEM file is configured the
// active key is seeded from it so tokens survive restarts; otherwise a fresh
// key is generated and every outstanding token is invalidated.
func InitAuthKeys(cfg Config, logger *slog.Logger) (*jwtx.KeyManager, error) {
	opts := jwtx.KeyManagerOptions{
		Algorithm: cfg.Algorithm,
		RSABits:   cfg.RSABits,
	}

	if cfg.PrivateKeyFile != "" {
		pemKey, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read signing key file: %w", err)
		}
		opts.PrivateKeyPEM = pemKey
		logger.Info("signing key loaded from file",
			"path", cfg.PrivateKeyFile,
			"algorithm", cfg.Algorithm,
		)
	} else {
		logger.Warn("generating ephemeral signing key, existing tokens are now invalid",
			"algorithm", cfg.Algorithm,
		)
	}

	keys, err := jwtx.NewKeyManager(opts)
	if err != nil {
		return nil, fmt.Errorf("initialize key manager: %w", err)
	}

	logger.Info("signing keys ready", "kid", keys.ActiveKID(), "algorithm", keys.Algorithm())
	return keys, nil
}
