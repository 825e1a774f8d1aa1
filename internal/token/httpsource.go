package token

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPSource mints tokens from an exchange endpoint that answers with a
// JSON body of the shape {"access_token": "...", "expires_in": 3600}.
// Pair it with NewCachingProvider so the endpoint is only hit when the
// cached token nears expiry.
func HTTPSource(client *http.Client, url string) Source {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) (Token, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return Token{}, fmt.Errorf("token: build exchange request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return Token{}, fmt.Errorf("token: exchange request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return Token{}, fmt.Errorf("token: exchange returned status %d", resp.StatusCode)
		}
		var body struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return Token{}, fmt.Errorf("token: decode exchange response: %w", err)
		}
		if body.AccessToken == "" {
			return Token{}, fmt.Errorf("token: exchange returned no access_token")
		}
		return Token{
			Value:     body.AccessToken,
			ExpiresAt: time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		}, nil
	}
}
