// Package notify delivers one time codes to users over email and SMS.
package notify

import "context"

// EmailSender sends a short lived verification code to an email address.
type EmailSender interface {
	SendCode(ctx context.Context, to, subject, code string) error
}

// SMSSender sends a short lived verification code to a phone number.
type SMSSender interface {
	SendCode(ctx context.Context, phone, code string) error
}
