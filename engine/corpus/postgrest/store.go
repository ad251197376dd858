// Package postgrest reaches the product index through a PostgREST gateway
// (Supabase style) instead of a direct database connection.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/engine/embedding"
)

const (
	service     = "postgrest"
	table       = "affiliate_products"
	matchRPC    = "match_affiliate_products"
	itemColumns = "id,name,description,image_url,affiliate_url,category_id"
)

// Config describes the gateway.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Store implements corpus.Store over the PostgREST HTTP API.
type Store struct {
	client    *resty.Client
	dimension int
}

type matchParams struct {
	QueryEmbedding embedding.Vector `json:"query_embedding"`
	MatchCount     int              `json:"match_count"`
	MinSimilarity  float64          `json:"min_similarity"`
}

type row struct {
	ID           key              `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	ImageURL     string           `json:"image_url"`
	AffiliateURL string           `json:"affiliate_url"`
	CategoryID   key              `json:"category_id"`
	Similarity   float64          `json:"similarity,omitempty"`
	Embedding    embedding.Vector `json:"embedding"`
}

// New builds a client for cfg.URL; it performs no network calls.
func New(cfg Config, dimension int) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("postgrest url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")+"/rest/v1").
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("apikey", cfg.APIKey).SetAuthToken(cfg.APIKey)
	}
	return &Store{client: client, dimension: dimension}, nil
}

func (s *Store) FindSimilar(
	ctx context.Context,
	query embedding.Vector,
	topK int,
	minSimilarity float64,
) ([]corpus.Match, error) {
	if err := corpus.CheckDimension(query, s.dimension); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}
	var rows []row
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(matchParams{QueryEmbedding: query, MatchCount: topK, MinSimilarity: minSimilarity}).
		SetResult(&rows).
		Post("/rpc/" + matchRPC)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	matches := make([]corpus.Match, 0, len(rows))
	for i := range rows {
		// the gateway's threshold is trusted only as a prefilter
		if rows[i].Similarity <= minSimilarity {
			continue
		}
		item := rows[i].toItem()
		matches = append(matches, corpus.MatchFromItem(&item, rows[i].Similarity))
	}
	corpus.SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Store) ItemsMissingVector(ctx context.Context, limit int) ([]corpus.Item, error) {
	req := s.client.R().
		SetContext(ctx).
		SetQueryParam("select", itemColumns).
		SetQueryParam("embedding", "is.null").
		SetQueryParam("order", "id.asc")
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	var rows []row
	resp, err := req.SetResult(&rows).Get("/" + table)
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}
	items := make([]corpus.Item, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].toItem())
	}
	return items, nil
}

func (s *Store) UpdateVector(ctx context.Context, id string, vec embedding.Vector) error {
	if err := corpus.CheckDimension(vec, s.dimension); err != nil {
		return err
	}
	var updated []row
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("select", "id").
		SetHeader("Prefer", "return=representation").
		SetBody(map[string]any{"embedding": vec}).
		SetResult(&updated).
		Patch("/" + table)
	if err := checkResponse(resp, err); err != nil {
		if errors.Is(err, core.ErrUpstreamTimeout) {
			return err
		}
		return fmt.Errorf("%w: update %q: %w", core.ErrPersistence, id, err)
	}
	if len(updated) == 0 {
		return fmt.Errorf("%w: item %q not found", core.ErrPersistence, id)
	}
	return nil
}

// UpsertItems writes items in one bulk request, merging on id.
func (s *Store) UpsertItems(ctx context.Context, items []corpus.Item) error {
	if len(items) == 0 {
		return nil
	}
	body := make([]row, 0, len(items))
	for i := range items {
		item := &items[i]
		if item.Embedding != nil {
			if err := corpus.CheckDimension(item.Embedding, s.dimension); err != nil {
				return fmt.Errorf("postgrest: item %q: %w", item.ID, err)
			}
		}
		body = append(body, row{
			ID:           key(item.ID),
			Name:         item.Name,
			Description:  item.Description,
			ImageURL:     item.ImageURL,
			AffiliateURL: item.AffiliateURL,
			CategoryID:   key(item.CategoryID),
			Embedding:    item.Embedding,
		})
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("on_conflict", "id").
		SetHeader("Prefer", "resolution=merge-duplicates,return=minimal").
		SetBody(body).
		Post("/" + table)
	if err := checkResponse(resp, err); err != nil {
		return fmt.Errorf("%w: upsert: %w", core.ErrPersistence, err)
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return core.AsTimeout(service, fmt.Errorf("%s request: %w", service, err))
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return core.NewUpstreamError(service, resp.StatusCode(), resp.String())
	}
	return nil
}

// key holds an id column that the gateway may serialize as a JSON string or
// number (text, uuid, int8 keys). Numbers keep their literal digits.
type key string

func (k *key) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte("null")):
		*k = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*k = key(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%s: id %s is neither a string nor a number", service, data)
	}
	*k = key(n.String())
	return nil
}

func (r *row) toItem() corpus.Item {
	return corpus.Item{
		ID:           string(r.ID),
		Name:         r.Name,
		Description:  r.Description,
		ImageURL:     r.ImageURL,
		AffiliateURL: r.AffiliateURL,
		CategoryID:   string(r.CategoryID),
	}
}
