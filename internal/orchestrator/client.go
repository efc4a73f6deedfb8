// Package orchestrator calls the agent gateway to run one agent turn per
// inbound message.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaydesk/channelhub/internal/channel"
	"github.com/relaydesk/channelhub/internal/config"
)

// Client is an HTTP channel.Orchestrator backed by the agent gateway's
// POST /v1/agent/run endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(cfg config.AgentGatewayConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL(),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type runRequest struct {
	SessionID     string               `json:"session_id"`
	AgentID       string               `json:"agent_id"`
	UserID        string               `json:"user_id"`
	Text          string               `json:"text"`
	Attachments   []channel.Attachment `json:"attachments,omitempty"`
	ToolOverrides []string             `json:"tool_overrides,omitempty"`
	Metadata      map[string]any       `json:"metadata,omitempty"`
}

type runResponse struct {
	Data struct {
		Text        string               `json:"text"`
		Attachments []channel.Attachment `json:"attachments"`
		Metadata    map[string]any       `json:"metadata"`
	} `json:"data"`
}

// Run posts the agent request and returns the reply. Non-2xx responses
// and transport failures surface as errors so the hub can report the
// message as failed without dropping the rest of the batch.
func (c *Client) Run(ctx context.Context, req channel.AgentRequest) (*channel.AgentReply, error) {
	body, err := json.Marshal(runRequest{
		SessionID:     req.SessionID,
		AgentID:       req.AgentID,
		UserID:        req.UserID,
		Text:          req.Text,
		Attachments:   req.Attachments,
		ToolOverrides: req.ToolOverrides,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encode run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/agent/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build run request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("agent gateway status %d: %s", resp.StatusCode, detail)
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode run response: %w", err)
	}
	return &channel.AgentReply{
		Text:        out.Data.Text,
		Attachments: out.Data.Attachments,
		Metadata:    out.Data.Metadata,
	}, nil
}
