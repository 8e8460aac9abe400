package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// GoogleVerifier validates Google issued ID tokens through the tokeninfo
// endpoint and checks the audience against the configured client id.
type GoogleVerifier struct {
	ClientID string
	Endpoint string
	Client   *http.Client
}

func NewGoogleVerifier(clientID string) *GoogleVerifier {
	return &GoogleVerifier{
		ClientID: clientID,
		Endpoint: googleTokenInfoURL,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type googleTokenInfo struct {
	Aud           string `json:"aud"`
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

func (g *GoogleVerifier) Verify(ctx context.Context, credential string) (SocialProfile, error) {
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = googleTokenInfoURL
	}

	reqURL := endpoint + "?id_token=" + url.QueryEscape(credential)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return SocialProfile{}, fmt.Errorf("build tokeninfo request: %w", err)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return SocialProfile{}, fmt.Errorf("%w: %v", ErrProviderDown, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SocialProfile{}, ErrInvalidAssertion
	}

	var info googleTokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return SocialProfile{}, fmt.Errorf("decode tokeninfo: %w", err)
	}

	if info.Aud != g.ClientID || info.Sub == "" {
		return SocialProfile{}, ErrInvalidAssertion
	}

	return SocialProfile{
		Subject:   info.Sub,
		Email:     info.Email,
		FirstName: info.GivenName,
		LastName:  info.FamilyName,
		Verified:  info.EmailVerified == "true",
	}, nil
}
