package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/user/vpn-orchestrator/internal/core"
	"github.com/user/vpn-orchestrator/internal/protocols"
)

// Client talks to a running orchestrator.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a client for the API listening on addr (host:port or URL).
func NewClient(addr, token string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		base:  strings.TrimRight(addr, "/"),
		token: token,
		http:  &http.Client{Timeout: 90 * time.Second},
	}
}

// Status returns the service status.
func (c *Client) Status(ctx context.Context) (*core.StatusPayload, error) {
	var out core.StatusPayload
	return &out, c.do(ctx, http.MethodGet, "/api/v1/status", nil, &out)
}

// Candidates returns the candidate list.
func (c *Client) Candidates(ctx context.Context) (protocols.CandidateList, error) {
	var out protocols.CandidateList
	return out, c.do(ctx, http.MethodGet, "/api/v1/candidates", nil, &out)
}

// ResetCandidates clears the failure history.
func (c *Client) ResetCandidates(ctx context.Context) (protocols.CandidateList, error) {
	var out protocols.CandidateList
	return out, c.do(ctx, http.MethodPost, "/api/v1/candidates/reset", nil, &out)
}

// Connect connects with the head of the list, or selects p when it is set.
func (c *Client) Connect(ctx context.Context, p protocols.ProtocolPort) (*core.StatusPayload, error) {
	var body interface{}
	if !p.IsZero() {
		body = ConnectRequest{Protocol: p.Protocol, Port: p.Port}
	}
	var out core.StatusPayload
	return &out, c.do(ctx, http.MethodPost, "/api/v1/connect", body, &out)
}

// Disconnect stops the tunnel.
func (c *Client) Disconnect(ctx context.Context) (*core.StatusPayload, error) {
	var out core.StatusPayload
	return &out, c.do(ctx, http.MethodPost, "/api/v1/disconnect", nil, &out)
}

// Reconnect reconnects with a rebuilt list.
func (c *Client) Reconnect(ctx context.Context) (*core.StatusPayload, error) {
	var out core.StatusPayload
	return &out, c.do(ctx, http.MethodPost, "/api/v1/reconnect", nil, &out)
}

// CancelFailover stops a running countdown.
func (c *Client) CancelFailover(ctx context.Context) (*core.StatusPayload, error) {
	var out core.StatusPayload
	return &out, c.do(ctx, http.MethodPost, "/api/v1/failover/cancel", nil, &out)
}

// PowerEvent reports a system "suspend" or "resume".
func (c *Client) PowerEvent(ctx context.Context, event string) (*core.StatusPayload, error) {
	var out core.StatusPayload
	return &out, c.do(ctx, http.MethodPost, "/api/v1/power/"+event, nil, &out)
}

// IPAddress returns the public IP address seen by the service.
func (c *Client) IPAddress(ctx context.Context) (string, error) {
	var out struct {
		IP string `json:"ip"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/ip", nil, &out)
	return out.IP, err
}

// Logs returns the last n log lines.
func (c *Client) Logs(ctx context.Context, n int) ([]string, error) {
	var out []string
	return out, c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/logs?lines=%d", n), nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the service running? %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return errors.New(e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
