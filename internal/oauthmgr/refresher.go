package oauthmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPRefresher performs the refresh_token grant (spec §4.2.1) against an
// arbitrary tokenUrl, generalizing the teacher's Google-only
// oauth.Manager.RefreshToken.
type HTTPRefresher struct {
	Client *http.Client
}

// NewHTTPRefresher builds a refresher with a sane default timeout.
func NewHTTPRefresher() *HTTPRefresher {
	return &HTTPRefresher{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (r *HTTPRefresher) Refresh(ctx context.Context, cfg Config, refreshToken string) (Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {cfg.ClientID},
		"refresh_token": {refreshToken},
	}
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, fmt.Errorf("refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return Token{}, fmt.Errorf("decode refresh response: %w", err)
	}
	return tok, nil
}
