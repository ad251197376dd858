// Package hfapi extracts token features from a Hugging Face style feature-extraction endpoint.
package hfapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/utakatik/utakatik/engine/core"
)

const service = "feature-extraction"

// Config describes the remote endpoint.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// Extractor calls POST {base}/{model}/pipeline/feature-extraction.
type Extractor struct {
	client *resty.Client
	path   string
}

type request struct {
	Inputs  string         `json:"inputs"`
	Options requestOptions `json:"options"`
}

type requestOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

// New builds an extractor; it performs no network calls.
func New(cfg Config) (*Extractor, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("feature-extraction base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("feature-extraction model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}
	return &Extractor{client: client, path: "/" + cfg.Model + "/pipeline/feature-extraction"}, nil
}

// Extract returns token rows. A pooled response is returned as a single row.
func (e *Extractor) Extract(ctx context.Context, text string) ([][]float32, error) {
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(request{Inputs: text, Options: requestOptions{WaitForModel: true}}).
		Post(e.path)
	if err != nil {
		return nil, core.AsTimeout(service, fmt.Errorf("%s request: %w", service, err))
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return nil, core.NewUpstreamError(service, resp.StatusCode(), resp.String())
	}
	return ParseFeatures(resp.Body())
}

// ParseFeatures accepts [[[f]]] (batched tokens), [[f]] (tokens) or [f] (pooled).
func ParseFeatures(body []byte) ([][]float32, error) {
	var batched [][][]float32
	if err := json.Unmarshal(body, &batched); err == nil {
		switch len(batched) {
		case 0:
			return nil, nil
		case 1:
			return batched[0], nil
		default:
			return nil, fmt.Errorf("%s: expected one input, got %d", service, len(batched))
		}
	}
	var tokens [][]float32
	if err := json.Unmarshal(body, &tokens); err == nil {
		return tokens, nil
	}
	var pooled []float32
	if err := json.Unmarshal(body, &pooled); err == nil {
		if len(pooled) == 0 {
			return nil, nil
		}
		return [][]float32{pooled}, nil
	}
	return nil, fmt.Errorf("%s: unrecognized response shape", service)
}
