// Package agent produces the AI opponent's entry for AI-sourced battles.
// The entry is composed lazily, on the human's first typing signal, so the
// agent answers the challenge the human actually has on screen.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Opponent composes the agent's prompt entry for a challenge.
type Opponent interface {
	ComposeEntry(ctx context.Context, challengeText string) (string, error)
}

// HTTPOpponent asks the agent service for an entry.
type HTTPOpponent struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPOpponent(endpoint string) *HTTPOpponent {
	return &HTTPOpponent{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 45 * time.Second},
	}
}

func (o *HTTPOpponent) ComposeEntry(ctx context.Context, challengeText string) (string, error) {
	body, err := json.Marshal(struct {
		Challenge string `json:"challenge"`
	}{challengeText})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent service returned status %d", resp.StatusCode)
	}
	var out struct {
		Entry string `json:"entry"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Entry == "" {
		return "", fmt.Errorf("agent service returned no entry")
	}
	return out.Entry, nil
}
