package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nearchat/client/model"
)

// TokenSource yields the bearer token. An empty token means anonymous.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed TokenSource
type StaticToken string

func (t StaticToken) Token() (string, error) { return string(t), nil }

type Options struct {
	BaseURL string
	Proxy   string
	Tokens  TokenSource
	Timeout time.Duration
	Log     *logrus.Entry

	// HTTPClient overrides the client built from Proxy and Timeout.
	HTTPClient *http.Client
}

// Client talks to the REST backend
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     *logrus.Entry
}

// envelope is the shape of every successful response
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Token   string          `json:"token,omitempty"`
	User    *model.User     `json:"user,omitempty"`
}

func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("api base URL is required")
	}
	if opts.Log == nil {
		opts.Log = logrus.WithField("component", "api")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport, err := NewTransport(opts.Proxy)
		if err != nil {
			return nil, err
		}
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Transport: transport.HTTP(), Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		tokens:  opts.Tokens,
		log:     opts.Log,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends a JSON request. GET requests carry no body.
func (c *Client) do(ctx context.Context, method, path string, body any, auth bool) (*envelope, error) {
	var reader io.Reader
	if method != http.MethodGet {
		if body == nil {
			body = struct{}{}
		}
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, auth)
}

func (c *Client) send(req *http.Request, auth bool) (*envelope, error) {
	if auth && c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"method":   req.Method,
		"path":     req.URL.Path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
		"headers":  RedactHeaders(req.Header),
	}).Debug("api request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newError(resp.StatusCode, raw)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	// multipart endpoints answer 200 with success=false
	if len(raw) > 0 && !env.Success {
		return nil, newError(resp.StatusCode, raw)
	}
	return &env, nil
}

// decodeData unmarshals the data field of env into v.
func decodeData(env *envelope, v any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

// RedactHeaders returns a copy of h with credentials masked for logging.
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		switch strings.ToLower(k) {
		case "authorization", "cookie", "x-api-key":
			out[k] = "[REDACTED]"
		default:
			out[k] = strings.Join(v, ",")
		}
	}
	return out
}
