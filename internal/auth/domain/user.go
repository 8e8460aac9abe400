package domain

import "time"

// User is the durable identity record. Only the fields the auth core reads
// and writes are modelled; the admin surface owns the rest of the schema.
type User struct {
	ID           string
	AuthID       string // stable external identifier used as token subject
	Email        string
	PasswordHash string // empty for passwordless/social-only accounts
	FirstName    string
	LastName     string
	Locale       string
	Phone        string // E.164, empty unless the user enrolled SMS MFA
	OrgSlug      string // denormalized current-org slug for branding/claims
	OtpSecret    string
	OtpVerified  bool
	EmailVerified bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Snapshot captures the identity and MFA-enrollment fields at credential
// time. It is embedded in the grant deliberately as a copy, not a live
// reference; steps that mutate the user write durable storage and refresh
// the grant explicitly.
func (u User) Snapshot() UserSnapshot {
	return UserSnapshot{
		ID:          u.ID,
		AuthID:      u.AuthID,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Locale:      u.Locale,
		Phone:       u.Phone,
		OrgSlug:     u.OrgSlug,
		OtpSecret:   u.OtpSecret,
		OtpVerified: u.OtpVerified,
		HasPassword: u.PasswordHash != "",
	}
}

// UserSnapshot is the point-in-time copy of a user embedded in AuthCodeGrant.
type UserSnapshot struct {
	ID          string `json:"id"`
	AuthID      string `json:"authId"`
	Email       string `json:"email"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Locale      string `json:"locale,omitempty"`
	Phone       string `json:"phone,omitempty"`
	OrgSlug     string `json:"orgSlug,omitempty"`
	OtpSecret   string `json:"otpSecret,omitempty"`
	OtpVerified bool   `json:"otpVerified"`
	HasPassword bool   `json:"hasPassword"`
}

// Org is an organization usable for branding and membership.
type Org struct {
	ID                       string
	Name                     string
	Slug                     string
	AllowPublicRegistration  bool
	OnlyUseForBrandingOverride bool
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// OrgMembership relates a user to an org they belong to.
type OrgMembership struct {
	UserID    string
	OrgID     string
	CreatedAt time.Time
}
