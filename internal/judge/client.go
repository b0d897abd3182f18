package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/promptclash/promptclash-backend/db"
)

// Client is the external AI judge capability. It receives one submission's
// generated output plus the challenge context and returns the judge's raw
// (free-text) response for parsing.
type Client interface {
	Evaluate(ctx context.Context, imageURL, challengeText string, criteria []db.Criterion) (string, error)
}

// HTTPClient talks to the judge service over HTTP. The criteria names are
// sent verbatim so the judge scores under exactly the names we later parse.
type HTTPClient struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *HTTPClient) Evaluate(ctx context.Context, imageURL, challengeText string, criteria []db.Criterion) (string, error) {
	body, err := json.Marshal(struct {
		ImageURL  string         `json:"image_url"`
		Challenge string         `json:"challenge"`
		Criteria  []db.Criterion `json:"criteria"`
	}{imageURL, challengeText, criteria})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("judge request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("judge returned status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
