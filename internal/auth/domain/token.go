package domain

import (
	"encoding/json"
	"time"
)

// TokenPair is the result of a token exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string // empty when offline_access was not granted
	IDToken      string // empty when openid was not granted
	TokenType    string
	ExpiresIn    time.Duration
	Scopes       []string
}

// RefreshTokenRecord lives in the kv store under the token's fingerprint.
// Invalidation deletes the record, so a concurrent reuse of the same token
// after invalidation fails closed.
type RefreshTokenRecord struct {
	UserID    string   `json:"userId"`
	AuthID    string   `json:"authId"`
	ClientUID string   `json:"clientUid"`
	Scopes    []string `json:"scopes"`
	SessionID string   `json:"sessionId"`
	IssuedAt  int64    `json:"issuedAt"`
}

// EncodeRefreshRecord serializes a refresh record for the kv store.
func EncodeRefreshRecord(r RefreshTokenRecord) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeRefreshRecord deserializes a refresh record from the kv store.
func DecodeRefreshRecord(raw string) (RefreshTokenRecord, error) {
	var r RefreshTokenRecord
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return RefreshTokenRecord{}, err
	}
	return r, nil
}

// Session is the durable marker written when a flow reaches its terminal
// step: this app authenticated this user for this request.
type Session struct {
	ID        string
	UserID    string
	ClientUID string
	Scopes    []string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Consent records that a user approved an app's requested access.
type Consent struct {
	UserID    string
	ClientUID string
	CreatedAt time.Time
}
