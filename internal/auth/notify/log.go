package notify

import (
	"context"

	"github.com/ValueMelody/melody-auth-sub004/pkg/slogx"
)

// LogEmailSender writes codes to the log instead of delivering them. It is
// the default when no SMTP relay is configured, which keeps local setups
// usable without an email account.
type LogEmailSender struct{}

func (LogEmailSender) SendCode(ctx context.Context, to, subject, code string) error {
	slogx.FromContext(ctx).Info("email code (log only)",
		"to", to,
		"subject", subject,
		"code", code,
	)
	return nil
}

// LogSMSSender writes codes to the log instead of delivering them.
type LogSMSSender struct{}

func (LogSMSSender) SendCode(ctx context.Context, phone, code string) error {
	slogx.FromContext(ctx).Info("sms code (log only)",
		"phone", phone,
		"code", code,
	)
	return nil
}
