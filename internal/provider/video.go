package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nodecanvas-ai/canvas-engine/internal/model"
)

// VideoConfig configures the video generation client. The poll interval and
// attempt budget are configuration on purpose: exceeding the budget is a
// reported timeout, never an infinite wait.
type VideoConfig struct {
	Endpoint     string
	APIKey       string
	Model        string
	PollInterval time.Duration
	MaxPolls     int
	HTTPClient   *http.Client
}

// VideoClient generates video through a start-then-poll HTTP API. Vendors in
// this space expose long-running operations rather than synchronous calls, so
// the adapter submits a job and polls its operation until it produces a URL.
type VideoClient struct {
	cfg  VideoConfig
	http *http.Client
}

// NewVideoClient creates a new video generation client.
func NewVideoClient(cfg VideoConfig) (*VideoClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("video endpoint is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &VideoClient{cfg: cfg, http: hc}, nil
}

// Name returns the provider name.
func (c *VideoClient) Name() string {
	return "video"
}

// Modality returns the content kind this client produces.
func (c *VideoClient) Modality() Modality {
	return ModalityVideo
}

type videoStartRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type videoOperation struct {
	ID       string `json:"id"`
	Done     bool   `json:"done"`
	VideoURL string `json:"video_url,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Generate submits a video job and polls until it completes or the poll
// budget is exhausted, in which case it returns ErrGenerationTimeout.
func (c *VideoClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	prompt := req.Instruction
	for _, msg := range flatten(req) {
		if msg.Role == string(model.RoleUser) && msg.Text != "" {
			prompt = msg.Text
		}
	}

	op, err := c.startJob(ctx, prompt, req.Model)
	if err != nil {
		return nil, err
	}

	// The Done check runs after every poll, including the last permitted one,
	// so a job finishing exactly on the final poll still returns its result.
	for polls := 0; ; polls++ {
		if op.Done {
			if op.Error != "" {
				return nil, fmt.Errorf("%w: %s", ErrGenerationFailed, op.Error)
			}
			mime := op.MIMEType
			if mime == "" {
				mime = "video/mp4"
			}
			return &Result{
				Content:   model.PartsContent(model.Part{Kind: model.PartImage, ImageRef: op.VideoURL, MIMEType: mime}),
				Model:     c.cfg.Model,
				LatencyMs: time.Since(start).Milliseconds(),
			}, nil
		}

		if polls >= c.cfg.MaxPolls {
			return nil, fmt.Errorf("%w after %d polls", ErrGenerationTimeout, c.cfg.MaxPolls)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, ctx.Err())
		case <-time.After(c.cfg.PollInterval):
		}

		op, err = c.pollJob(ctx, op.ID)
		if err != nil {
			return nil, err
		}
	}
}

func (c *VideoClient) startJob(ctx context.Context, prompt, modelName string) (*videoOperation, error) {
	if modelName == "" {
		modelName = c.cfg.Model
	}
	body, err := json.Marshal(videoStartRequest{Prompt: prompt, Model: modelName})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/videos", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return c.do(httpReq)
}

func (c *VideoClient) pollJob(ctx context.Context, operationID string) (*videoOperation, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/v1/videos/"+operationID, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return c.do(httpReq)
}

func (c *VideoClient) do(req *http.Request) (*videoOperation, error) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrGenerationFailed, resp.StatusCode, data)
	}

	var op videoOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return &op, nil
}
