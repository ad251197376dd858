// Package completion talks to OpenAI-compatible chat completion services and
// relays their output, whole or streamed.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"
	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/pkg/logger"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultRetryBackoff = 250 * time.Millisecond
	maxErrorBody        = 64 << 10
	doneMarker          = "[DONE]"
)

// Config describes one completion endpoint.
type Config struct {
	Service      string
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Referer      string
	Title        string
}

// Client sends chat completion requests.
type Client struct {
	service    string
	model      string
	rest       *resty.Client
	streaming  *resty.Client
	maxRetries uint64
	backoff    time.Duration
}

// Sink receives streamed text deltas in order.
type Sink func(delta string) error

// NewClient builds a client; it performs no network calls.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("completion base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("completion model is required")
	}
	service := cfg.Service
	if service == "" {
		service = "completion"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	rest := newResty(cfg).SetTimeout(timeout)
	// streams outlive the request timeout; only the wait for headers is bounded
	streaming := newResty(cfg).SetTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
	})
	return &Client{
		service:    service,
		model:      cfg.Model,
		rest:       rest,
		streaming:  streaming,
		maxRetries: uint64(maxRetries), // #nosec G115 -- clamped above
		backoff:    backoff,
	}, nil
}

func newResty(cfg Config) *resty.Client {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	if cfg.Referer != "" {
		client.SetHeader("HTTP-Referer", cfg.Referer)
	}
	if cfg.Title != "" {
		client.SetHeader("X-Title", cfg.Title)
	}
	return client
}

// Model is the default model for requests that leave it empty.
func (c *Client) Model() string {
	return c.model
}

// Complete sends a non-streaming request. Timeouts are retried up to the
// configured bound; every other failure is returned at once.
func (c *Client) Complete(ctx context.Context, req *Request) (*Response, error) {
	body := c.prepare(req, false)
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewConstant(c.backoff))
	var out *Response
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, err := c.completeOnce(ctx, &body)
		if err != nil {
			if core.IsRetryable(err) {
				logger.FromContext(ctx).Warn("Completion timed out, retrying", "service", c.service)
				return retry.RetryableError(err)
			}
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		// an expired caller deadline surfaces from retry.Do as a bare context error
		return nil, core.AsTimeout(c.service, err)
	}
	return out, nil
}

func (c *Client) completeOnce(ctx context.Context, body *Request) (*Response, error) {
	var out Response
	resp, err := c.rest.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return nil, core.AsTimeout(c.service, fmt.Errorf("%s request: %w", c.service, err))
	}
	if !isSuccess(resp.StatusCode()) {
		return nil, core.NewUpstreamError(c.service, resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// Stream sends a streaming request and forwards each content delta to sink as
// it is decoded. It returns when the upstream closes, sends [DONE], or sink fails.
func (c *Client) Stream(ctx context.Context, req *Request, sink Sink) error {
	body := c.prepare(req, true)
	resp, err := c.streaming.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetHeader("Cache-Control", "no-cache").
		SetBody(&body).
		SetDoNotParseResponse(true).
		Post("/chat/completions")
	if err != nil {
		return core.AsTimeout(c.service, fmt.Errorf("%s stream: %w", c.service, err))
	}
	raw := resp.RawBody()
	defer raw.Close()
	if !isSuccess(resp.StatusCode()) {
		msg, _ := io.ReadAll(io.LimitReader(raw, maxErrorBody))
		return core.NewUpstreamError(c.service, resp.StatusCode(), string(msg))
	}
	return core.AsTimeout(c.service, forward(ctx, NewDecoder(raw), sink))
}

func forward(ctx context.Context, dec *Decoder, sink Sink) error {
	log := logger.FromContext(ctx)
	for {
		ev, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if ev.Type != "message" {
			continue
		}
		data := strings.TrimSpace(ev.Data)
		if data == doneMarker {
			return nil
		}
		var chunk StreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Debug("Skipping malformed stream chunk", "error", err)
			continue
		}
		text, ok := chunk.Text()
		if !ok || text == "" {
			continue
		}
		if err := sink(text); err != nil {
			return err
		}
	}
}

func (c *Client) prepare(req *Request, stream bool) Request {
	body := *req
	if body.Model == "" {
		body.Model = c.model
	}
	body.Stream = stream
	return body
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
