package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/postforge-ai/postforge/hub/config"
)

// RemoteGenerator proxies generation to an external HTTP service.
type RemoteGenerator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewRemote creates a RemoteGenerator from config.
func NewRemote(cfg config.GenerateConfig) *RemoteGenerator {
	return &RemoteGenerator{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout.Duration},
	}
}

type remoteRequest struct {
	URL       string `json:"url"`
	Style     string `json:"style"`
	Occasion  string `json:"occasion,omitempty"`
	UseCached bool   `json:"use_cached,omitempty"`
}

type remoteResponse struct {
	Content           string `json:"content"`
	Cached            bool   `json:"cached"`
	Truncated         bool   `json:"truncated"`
	TruncationMessage string `json:"truncation_message,omitempty"`
}

func (g *RemoteGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(remoteRequest{
		URL:       req.URL,
		Style:     string(req.Style),
		Occasion:  req.Occasion,
		UseCached: req.UseCached,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("generation service returned status %d", resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode generation response: %w", err)
	}

	return &Result{
		Content:           out.Content,
		Cached:            out.Cached,
		Truncated:         out.Truncated,
		TruncationMessage: out.TruncationMessage,
	}, nil
}
