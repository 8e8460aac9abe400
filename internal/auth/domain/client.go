package domain

import (
	"slices"
	"time"
)

// Client is a registered OAuth2 client application.
type Client struct {
	ID           string
	ClientID     string
	Name         string
	Type         string // "spa" or "s2s"
	SecretHash   string // empty for public clients
	RedirectURIs []string
	Scopes       []string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AllowsRedirectURI reports whether uri is registered for this client.
func (c Client) AllowsRedirectURI(uri string) bool {
	return slices.Contains(c.RedirectURIs, uri)
}
