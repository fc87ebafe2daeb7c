package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"upkeep/internal/metrics"
)

const defaultTimeout = 10 * time.Second

// Client is a JSON-over-HTTP request/reply caller bound to one target service.
type Client struct {
	Target     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Tokens     *ServiceTokens
}

// New creates a client with the default 10s timeout.
func New(target, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		Target:     target,
		BaseURL:    baseURL,
		Timeout:    timeout,
		HTTPClient: &http.Client{},
	}
}

// Request describes one request/reply call. Pattern names the operation
// (CREATE_TASK, GET_BUILDING_BY_ID, ...).
type Request struct {
	Pattern string
	Method  string
	Path    string
	Body    any
	Timeout time.Duration
}

// envelope is the response shape shared by the platform's services.
type envelope struct {
	IsSuccess *bool           `json:"isSuccess"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

// Call performs req and decodes the envelope's data into out. Every call runs
// under its own deadline. Failures are returned as *Error and never retried.
func (c *Client) Call(ctx context.Context, req Request, out any) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.Timeout
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.do(callCtx, req, out)
	metrics.RemoteCallDuration.WithLabelValues(c.Target, req.Pattern).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		if k, ok := kindOf(err); ok {
			result = string(k)
		}
	}
	metrics.RemoteCalls.WithLabelValues(c.Target, req.Pattern, result).Inc()
	return err
}

func (c *Client) do(ctx context.Context, r Request, out any) error {
	fail := func(kind Kind, status int, msg string, cause error) error {
		return &Error{Target: c.Target, Operation: r.Pattern, Kind: kind, StatusCode: status, Message: msg, Cause: cause}
	}
	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(r.Path, "/")
	var buf bytes.Buffer
	if r.Body != nil {
		if err := json.NewEncoder(&buf).Encode(r.Body); err != nil {
			return fail(KindDecode, 0, "encode request", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return fail(KindTransport, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Upkeep-Pattern", r.Pattern)
	if c.Tokens != nil {
		token, err := c.Tokens.Sign(c.Target)
		if err != nil {
			return fail(KindTransport, 0, "sign service token", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail(KindTimeout, 0, "", err)
		}
		return fail(KindTransport, 0, "", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail(KindTimeout, resp.StatusCode, "reading reply", err)
		}
		return fail(KindTransport, resp.StatusCode, "reading reply", err)
	}
	var env envelope
	decodeErr := json.Unmarshal(body, &env)
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(env.Message)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return fail(KindRejection, resp.StatusCode, msg, nil)
	}
	if decodeErr != nil {
		return fail(KindDecode, resp.StatusCode, "", decodeErr)
	}
	if env.IsSuccess != nil && !*env.IsSuccess {
		return fail(KindRejection, resp.StatusCode, env.Message, nil)
	}
	if out == nil {
		return nil
	}
	data := env.Data
	if env.IsSuccess == nil {
		// bare JSON body without envelope
		data = body
	}
	if len(data) == 0 || string(data) == "null" {
		return fail(KindDecode, resp.StatusCode, "empty data", nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fail(KindDecode, resp.StatusCode, "", err)
	}
	return nil
}

func (c *Client) String() string {
	return fmt.Sprintf("%s(%s)", c.Target, c.BaseURL)
}
