package domain

import (
	"errors"
	"strings"
)

var ErrInvalidAuthorizeRequest = errors.New("domain: invalid authorize request")

// AuthorizeRequest captures the OAuth2 parameters of a login attempt. It is
// validated once at flow entry and then carried unchanged inside the grant
// through every subsequent step.
type AuthorizeRequest struct {
	ClientID            string   `json:"clientId"`
	RedirectURI         string   `json:"redirectUri"`
	ResponseType        string   `json:"responseType"`
	Scopes              []string `json:"scopes"`
	State               string   `json:"state"`
	CodeChallenge       string   `json:"codeChallenge"`
	CodeChallengeMethod string   `json:"codeChallengeMethod"`
	Locale              string   `json:"locale,omitempty"`
	Org                 string   `json:"org,omitempty"`
	Policy              string   `json:"policy,omitempty"`
}

// Normalize trims fields and defaults the PKCE method to S256.
func (r *AuthorizeRequest) Normalize() {
	r.ClientID = strings.TrimSpace(r.ClientID)
	r.RedirectURI = strings.TrimSpace(r.RedirectURI)
	r.ResponseType = strings.TrimSpace(r.ResponseType)
	r.State = strings.TrimSpace(r.State)
	r.CodeChallenge = strings.TrimSpace(r.CodeChallenge)

	switch {
	case strings.EqualFold(r.CodeChallengeMethod, "plain"):
		r.CodeChallengeMethod = "plain"
	default:
		r.CodeChallengeMethod = "S256"
	}
}

// Validate checks the request is a well-formed code-flow request. PKCE is
// mandatory for every client type here; the hosted pages are public clients.
func (r AuthorizeRequest) Validate() error {
	if !strings.EqualFold(r.ResponseType, "code") {
		return ErrInvalidAuthorizeRequest
	}
	if r.ClientID == "" || r.RedirectURI == "" {
		return ErrInvalidAuthorizeRequest
	}
	if r.CodeChallenge == "" {
		return ErrInvalidAuthorizeRequest
	}
	return nil
}
