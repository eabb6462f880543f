package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"abuseflow/internal/config"
	pkgerrors "abuseflow/pkg/errors"
)

// Client talks to the external analysis service. The service is opaque to the
// pipeline: subject and body go in, a structured result or an error comes
// back.
type Client struct {
	cfg    config.AnalysisConfig
	client *http.Client
}

func NewClient(cfg config.AnalysisConfig) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (c *Client) Analyze(ctx context.Context, subject, body string) (Result, error) {
	payload, err := json.Marshal(request{
		Model:       c.cfg.Model,
		Subject:     subject,
		Body:        body,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return Result{}, pkgerrors.ErrAnalysis.WithCause(err).AsFatal()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return Result{}, pkgerrors.ErrAnalysis.WithCause(err).AsFatal()
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, pkgerrors.ErrAnalysis.WithCause(fmt.Errorf("analysis request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, pkgerrors.ErrAnalysis.WithCause(fmt.Errorf("analysis service returned status %d", resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Client-side errors will not get better on retry.
		return Result{}, pkgerrors.ErrAnalysis.WithCause(fmt.Errorf("analysis service returned status %d", resp.StatusCode)).AsFatal()
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, pkgerrors.ErrAnalysis.WithCause(fmt.Errorf("decode analysis response: %w", err))
	}
	if out.Error != "" {
		return Result{}, pkgerrors.ErrAnalysis.WithCause(fmt.Errorf("analysis service error: %s", out.Error))
	}
	if out.Result == nil {
		return Result{}, pkgerrors.ErrAnalysis.WithCause(fmt.Errorf("analysis response missing result"))
	}

	return *out.Result, nil
}
