package domain

// Factor identifies a multi-factor verification method.
type Factor string

const (
	FactorOTP   Factor = "otp"
	FactorEmail Factor = "email"
	FactorSMS   Factor = "sms"
)

// Factors lists every supported factor.
var Factors = []Factor{FactorOTP, FactorEmail, FactorSMS}

// ValidFactor reports whether f names a supported factor.
func ValidFactor(f Factor) bool {
	switch f {
	case FactorOTP, FactorEmail, FactorSMS:
		return true
	}
	return false
}

// OtpEnrollment carries what the hosted setup page needs to render a QR code.
type OtpEnrollment struct {
	Secret  string
	OtpAuth string // otpauth:// URL
	Issuer  string
	Account string
}

// StampValue is the fixed sentinel written when a factor is satisfied.
// Stamp writes are idempotent; concurrent verifications of the same factor
// produce the same value.
const StampValue = "1"
