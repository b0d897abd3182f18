// Package generation turns a submitted prompt into an output reference via
// the external content generation service, off the request path.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/promptclash/promptclash-backend/db"
	"github.com/promptclash/promptclash-backend/internal/events"
	"github.com/promptclash/promptclash-backend/internal/tasks"
)

// Client is the external generation capability: prompt text in, output
// reference (image URL) out.
type Client interface {
	Generate(ctx context.Context, promptText, challengeText string) (string, error)
}

type HTTPClient struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 90 * time.Second},
	}
}

func (c *HTTPClient) Generate(ctx context.Context, promptText, challengeText string) (string, error) {
	body, err := json.Marshal(struct {
		Prompt    string `json:"prompt"`
		Challenge string `json:"challenge"`
	}{promptText, challengeText})
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
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation service returned status %d", resp.StatusCode)
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("generation service returned no url")
	}
	return out.URL, nil
}

// Store is the persistence slice the worker needs.
type Store interface {
	SetGeneratedOutput(ctx context.Context, submissionID, url string) error
}

// Worker runs generation under the task runner. Each submission's
// generation is keyed on (battle, submission) so the immediate trigger and
// the dual-submission safety net can both enqueue without double-running.
type Worker struct {
	client Client
	store  Store
	bus    events.Broadcaster
	sched  tasks.Scheduler
	// OnGenerated is invoked after the output URL is persisted; wired to
	// the coordinator's generating -> judging check in main.
	OnGenerated func(ctx context.Context, battleID string) error
}

func NewWorker(client Client, store Store, bus events.Broadcaster, sched tasks.Scheduler) *Worker {
	return &Worker{
		client: client,
		store:  store,
		bus:    bus,
		sched:  sched,
	}
}

// Enqueue queues generation for one submission. Duplicate enqueues for the
// same (battle, submission) collapse into one task.
func (w *Worker) Enqueue(battleID string, sub db.Submission, challengeText string, expiry time.Time) {
	key := tasks.Key{Kind: tasks.KindGeneration, BattleID: battleID, SubmissionID: sub.ID}
	queued := w.sched.Schedule(key, 0, expiry, func(ctx context.Context) error {
		return w.generate(ctx, battleID, sub, challengeText)
	})
	if queued {
		w.bus.ToBattle(battleID, events.ImageGenerating(sub.ID))
	}
}

func (w *Worker) generate(ctx context.Context, battleID string, sub db.Submission, challengeText string) error {
	url, err := w.client.Generate(ctx, sub.SanitizedText, challengeText)
	if err != nil {
		w.bus.ToBattle(battleID, events.ImageGenerationFailed(sub.ID, "generation failed"))
		return err
	}
	if err := w.store.SetGeneratedOutput(ctx, sub.ID, url); err != nil {
		return err
	}
	w.bus.ToBattle(battleID, events.ImageGenerated(sub.ID, sub.UserID, url))
	if w.OnGenerated != nil {
		return w.OnGenerated(ctx, battleID)
	}
	return nil
}
