package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ValueMelody/melody-auth-sub004/internal/auth/domain"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/notify"
	"github.com/ValueMelody/melody-auth-sub004/internal/auth/service"
)

type Config struct {
	Issuer string // Required: issuer claim for tokens

	Algorithm      string // Optional: JWT signing algorithm (RS256, ES256, EdDSA) (default: ES256)
	RSABits        int    // Optional: RSA key size for RS256
	PrivateKeyFile string // Optional: PEM file seeding the active signing key

	DatabaseFile string // Path to SQLite database file (default: ./auth.db)

	KVDriver      string // kv backend (memory, redis) (default: memory)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTP notify.SMTPConfig // Email relay; log-only sender when Host is empty

	SecureCookies bool

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)

	Service service.Config // Flow policy, thresholds and feature toggles
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:         getEnvOrDefault("AUTH_ISSUER", "http://localhost:8080"),
		Algorithm:      getEnvOrDefault("AUTH_ALGORITHM", "ES256"),
		RSABits:        getEnvIntOrDefault("AUTH_RSA_BITS", 0),
		PrivateKeyFile: os.Getenv("AUTH_PRIVATE_KEY_FILE"),
		DatabaseFile:   getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),

		KVDriver:      getEnvOrDefault("KV_DRIVER", "memory"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),

		SMTP: notify.SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvIntOrDefault("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
			FromName: getEnvOrDefault("SMTP_FROM_NAME", "Auth"),
		},

		SecureCookies: getEnvBoolOrDefault("SECURE_COOKIES", true),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	cfg.Service = loadServiceConfig(cfg.Issuer)
	return cfg
}

// loadServiceConfig layers environment overrides over the policy defaults.
func loadServiceConfig(issuer string) service.Config {
	sc := service.DefaultConfig()
	sc.Issuer = issuer
	sc.OTPIssuer = getEnvOrDefault("OTP_ISSUER", "melody-auth")

	sc.CodeTTL = getEnvDurationOrDefault("CODE_TTL", sc.CodeTTL)
	sc.AccessTokenTTL = getEnvDurationOrDefault("ACCESS_TOKEN_TTL", sc.AccessTokenTTL)
	sc.RefreshTokenTTL = getEnvDurationOrDefault("REFRESH_TOKEN_TTL", sc.RefreshTokenTTL)
	sc.IDTokenTTL = getEnvDurationOrDefault("ID_TOKEN_TTL", sc.IDTokenTTL)
	sc.SessionTTL = getEnvDurationOrDefault("SESSION_TTL", sc.SessionTTL)
	sc.OneTimeCodeTTL = getEnvDurationOrDefault("ONE_TIME_CODE_TTL", sc.OneTimeCodeTTL)
	sc.ResetCodeTTL = getEnvDurationOrDefault("RESET_CODE_TTL", sc.ResetCodeTTL)
	sc.RememberDeviceTTL = getEnvDurationOrDefault("REMEMBER_DEVICE_TTL", sc.RememberDeviceTTL)

	sc.RequireOTPMFA = getEnvBoolOrDefault("REQUIRE_OTP_MFA", sc.RequireOTPMFA)
	sc.RequireEmailMFA = getEnvBoolOrDefault("REQUIRE_EMAIL_MFA", sc.RequireEmailMFA)
	sc.RequireSMSMFA = getEnvBoolOrDefault("REQUIRE_SMS_MFA", sc.RequireSMSMFA)
	sc.EnforceOneMFA = parseFactors(os.Getenv("ENFORCE_ONE_MFA"))
	sc.AllowRememberDevice = getEnvBoolOrDefault("ALLOW_REMEMBER_DEVICE", sc.AllowRememberDevice)

	sc.SignInThreshold = getEnvIntOrDefault("SIGN_IN_THRESHOLD", sc.SignInThreshold)
	sc.ResetThreshold = getEnvIntOrDefault("RESET_THRESHOLD", sc.ResetThreshold)
	sc.OTPMFAThreshold = getEnvIntOrDefault("OTP_MFA_THRESHOLD", sc.OTPMFAThreshold)
	sc.EmailMFAThreshold = getEnvIntOrDefault("EMAIL_MFA_THRESHOLD", sc.EmailMFAThreshold)
	sc.SMSMFAThreshold = getEnvIntOrDefault("SMS_MFA_THRESHOLD", sc.SMSMFAThreshold)
	sc.ChangeEmailThreshold = getEnvIntOrDefault("CHANGE_EMAIL_THRESHOLD", sc.ChangeEmailThreshold)

	sc.EnablePasswordSignIn = getEnvBoolOrDefault("ENABLE_PASSWORD_SIGN_IN", sc.EnablePasswordSignIn)
	sc.EnablePasswordlessSignIn = getEnvBoolOrDefault("ENABLE_PASSWORDLESS_SIGN_IN", sc.EnablePasswordlessSignIn)
	sc.EnableGoogleSignIn = getEnvBoolOrDefault("ENABLE_GOOGLE_SIGN_IN", sc.EnableGoogleSignIn)
	sc.EnablePasskeySignIn = getEnvBoolOrDefault("ENABLE_PASSKEY_SIGN_IN", sc.EnablePasskeySignIn)
	sc.EnablePasswordReset = getEnvBoolOrDefault("ENABLE_PASSWORD_RESET", sc.EnablePasswordReset)
	sc.UnlockOnPasswordReset = getEnvBoolOrDefault("UNLOCK_ON_PASSWORD_RESET", sc.UnlockOnPasswordReset)

	sc.EnableOrg = getEnvBoolOrDefault("ENABLE_ORG", sc.EnableOrg)
	sc.BlockedSwitchOrg = getEnvBoolOrDefault("BLOCKED_SWITCH_ORG", sc.BlockedSwitchOrg)
	sc.BlockedChangeOrg = getEnvBoolOrDefault("BLOCKED_CHANGE_ORG", sc.BlockedChangeOrg)

	return sc
}

func parseFactors(raw string) []domain.Factor {
	if raw == "" {
		return nil
	}
	var factors []domain.Factor
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		factors = append(factors, domain.Factor(part))
	}
	return factors
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	// Plain integers are read as seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
