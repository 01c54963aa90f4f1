package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/o324/o324/internal/tasks"
)

// EventsPath is the daemon route accepting posted actions.
const EventsPath = "/v1/events"

// EventsRequest is the body posted to EventsPath.
type EventsRequest struct {
	Actions []tasks.TaskAction `json:"actions" binding:"required"`
}

// Poster forwards actions to a running daemon over HTTP. Delivery is
// best effort: with no daemon listening, actions are dropped.
type Poster struct {
	url    string
	client *http.Client
}

var _ tasks.Notifier = (*Poster)(nil)

// NewPoster creates a poster for the daemon at addr, given as host:port
// or as a URL.
func NewPoster(addr string) *Poster {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Poster{
		url:    strings.TrimSuffix(base, "/") + EventsPath,
		client: &http.Client{Timeout: 500 * time.Millisecond},
	}
}

// Notify posts actions, ignoring every failure.
func (p *Poster) Notify(actions []tasks.TaskAction) {
	if len(actions) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.client.Timeout)
	defer cancel()
	_ = p.Post(ctx, actions)
}

// Post sends actions and reports the outcome.
func (p *Poster) Post(ctx context.Context, actions []tasks.TaskAction) error {
	body, err := json.Marshal(EventsRequest{Actions: actions})
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post actions: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("failed to post actions: daemon returned %s", resp.Status)
	}
	return nil
}
