// Package upstream is the HTTP client for the single upstream chat provider.
// Every chat call passes through the shared admission gate.
package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/lexandersaw/iflow2api/internal/admission"
	"github.com/lexandersaw/iflow2api/internal/domain"
)

// UserAgent identifies the gateway to the upstream.
const UserAgent = "iflow2api-gateway/1.0"

// ClientOption configures the client.
type ClientOption func(*Client)

// WithTransport sets the HTTP backend.
func WithTransport(t Transport) ClientOption {
	return func(c *Client) {
		c.transport = t
	}
}

// WithGate sets the admission gate. Without one the client admits a single call at a time.
func WithGate(g *admission.Gate) ClientOption {
	return func(c *Client) {
		c.gate = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithUserInfoURL sets the OAuth user-info endpoint.
func WithUserInfoURL(u string) ClientOption {
	return func(c *Client) {
		c.userInfoURL = u
	}
}

// Client talks to the upstream chat-completions API.
type Client struct {
	baseURL     string
	apiKey      string
	userInfoURL string
	transport   Transport
	gate        *admission.Gate
	logger      *slog.Logger
}

// NewClient creates a new upstream client.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		apiKey:    apiKey,
		transport: http.DefaultClient,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.gate == nil {
		c.gate = admission.New(1)
	}
	return c
}

// Gate returns the client's admission gate.
func (c *Client) Gate() *admission.Gate {
	return c.gate
}

// ChatCompletion sends a non-streaming request body and returns the raw
// response JSON.
func (c *Client) ChatCompletion(ctx context.Context, body map[string]any) ([]byte, error) {
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := c.post(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.ErrServer(fmt.Sprintf("read upstream response: %v", err)).WithStatusCode(http.StatusBadGateway)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, respBody)
	}
	if apiErr := businessError(respBody); apiErr != nil {
		return nil, apiErr
	}
	return respBody, nil
}

// StreamChatCompletion sends a streaming request. The admission slot stays
// held until the returned Stream is closed.
func (c *Client) StreamChatCompletion(ctx context.Context, body map[string]any) (*Stream, error) {
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, body, true)
	if err != nil {
		release()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer release()
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, statusError(resp.StatusCode, respBody)
	}

	return newStream(resp.Body, release), nil
}

func (c *Client) post(ctx context.Context, body map[string]any, stream bool) (*http.Response, error) {
	if stream {
		body["stream"] = true
	} else {
		delete(body, "stream")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("User-Agent", UserAgent)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, err := c.transport.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.ErrServer(fmt.Sprintf("upstream request failed: %v", err)).WithStatusCode(http.StatusBadGateway)
	}
	return resp, nil
}

// UserInfo is the subset of the OAuth user-info payload the gateway uses.
type UserInfo struct {
	APIKey   string `json:"apiKey"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
}

// FetchUserInfo exchanges an OAuth access token for the account's API key.
// The endpoint takes the token as a query parameter.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	if c.userInfoURL == "" {
		return nil, errors.New("user info url not configured")
	}
	u, err := url.Parse(c.userInfoURL)
	if err != nil {
		return nil, fmt.Errorf("invalid user info url: %w", err)
	}
	q := u.Query()
	q.Set("accessToken", accessToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.transport.Do(req)
	if err != nil {
		return nil, fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read user info: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, domain.NewAPIError(domain.ErrorTypeAuthentication, "access token is invalid or expired").WithStatusCode(http.StatusUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}

	var envelope struct {
		Success bool      `json:"success"`
		Data    *UserInfo `json:"data"`
		Message string    `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user info: %w", err)
	}
	if !envelope.Success || envelope.Data == nil {
		return nil, fmt.Errorf("user info lookup failed: %s", envelope.Message)
	}
	return envelope.Data, nil
}

// Stream yields the JSON payload of each upstream SSE data line.
type Stream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	release func()
	done    bool
}

func newStream(body io.ReadCloser, release func()) *Stream {
	return &Stream{
		body:    body,
		reader:  bufio.NewReaderSize(body, 64*1024),
		release: release,
	}
}

// Next returns the next data payload. It returns io.EOF after [DONE] or when
// the upstream closes the body.
func (s *Stream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		line, err := s.reader.ReadBytes('\n')
		if data, ok := parseDataLine(line); ok {
			if string(data) == "[DONE]" {
				s.done = true
				return nil, io.EOF
			}
			return data, nil
		}
		if err != nil {
			s.done = true
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("stream read error: %w", err)
		}
	}
}

// Close releases the body and the admission slot.
func (s *Stream) Close() error {
	defer s.release()
	return s.body.Close()
}

// parseDataLine accepts both "data: {...}" and the upstream's "data:{...}".
func parseDataLine(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	data := bytes.TrimSpace(line[len("data:"):])
	if len(data) == 0 {
		return nil, false
	}
	return data, true
}
