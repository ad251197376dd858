package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/utakatik/utakatik/engine/completion"
	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/engine/corpus"
	"github.com/utakatik/utakatik/engine/infra/server/router"
	"github.com/utakatik/utakatik/pkg/logger"
)

type chatRequest struct {
	Messages []completion.Message `json:"messages"`
}

// Source is a retrieved product as returned to callers.
type Source struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	URL        string  `json:"url"`
	Similarity float64 `json:"similarity"`
	ImageURL   string  `json:"image_url"`
}

type chatResponse struct {
	Reply   string   `json:"reply"`
	Sources []Source `json:"sources"`
}

type askRequest struct {
	Messages []completion.Message `json:"messages"`
	Question string               `json:"question"`
	Stream   *bool                `json:"stream"`
}

type askResponse struct {
	Reply string `json:"reply"`
}

type reindexRequest struct {
	Limit int `json:"limit"`
}

type reindexResponse struct {
	Updated int      `json:"updated"`
	Total   int      `json:"total"`
	Failed  []string `json:"failed,omitempty"`
}

type embedOneRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// bindOptionalJSON accepts an empty body as the zero value.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		router.RespondProblemWithCode(c, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return false
	}
	return true
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	ans, err := s.deps.Answerer.Answer(c.Request.Context(), req.Messages)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatResponse{Reply: ans.Reply, Sources: toSources(ans.Matches)})
}

func toSources(matches []corpus.Match) []Source {
	out := make([]Source, 0, len(matches))
	for _, m := range matches {
		out = append(out, Source{ID: m.ID, Name: m.Name, URL: m.URL, Similarity: m.Similarity, ImageURL: m.ImageURL})
	}
	return out
}

func (s *Server) handleAsk(c *gin.Context) {
	var req askRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	turns := req.Messages
	if len(turns) == 0 && req.Question != "" {
		turns = []completion.Message{{Role: completion.RoleUser, Content: req.Question}}
	}
	if len(turns) == 0 {
		router.RespondError(c, fmt.Errorf("%w: question or messages required", core.ErrInvalidInput))
		return
	}
	stream := req.Stream == nil || *req.Stream
	ctx := c.Request.Context()
	if !stream {
		reply, err := s.deps.Relay.Relay(ctx, turns, false, nil)
		if err != nil {
			router.RespondError(c, err)
			return
		}
		c.JSON(http.StatusOK, askResponse{Reply: reply})
		return
	}
	wrote := false
	_, err := s.deps.Relay.Relay(ctx, turns, true, func(delta string) error {
		if !wrote {
			c.Header("Content-Type", "text/plain; charset=utf-8")
			c.Header("Cache-Control", "no-cache")
			c.Header("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
			wrote = true
		}
		if _, err := io.WriteString(c.Writer, delta); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	switch {
	case err != nil && !wrote:
		router.RespondError(c, err)
	case err != nil:
		logger.FromContext(ctx).Warn("Stream ended early", "error", err)
	case !wrote:
		c.Status(http.StatusOK)
	}
}

func (s *Server) handleReindex(c *gin.Context) {
	var req reindexRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			router.RespondError(c, fmt.Errorf("%w: limit must be a non-negative integer", core.ErrInvalidInput))
			return
		}
		req.Limit = n
	}
	report, err := s.deps.Reindexer.Reindex(c.Request.Context(), req.Limit)
	if err != nil {
		router.RespondError(c, err)
		return
	}
	resp := reindexResponse{Updated: report.Updated, Total: report.Total}
	for _, o := range report.Failed() {
		resp.Failed = append(resp.Failed, o.ID)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEmbedOne(c *gin.Context) {
	var req embedOneRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if err := s.deps.Indexer.IndexOne(c.Request.Context(), req.ID, req.Name, req.Description); err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			router.RespondProblemWithCode(c, http.StatusBadRequest, "invalid_input", "id and name required")
			return
		}
		router.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{}
	healthy := true
	for _, hc := range s.deps.HealthChecks {
		if err := hc.Check(c.Request.Context()); err != nil {
			healthy = false
			checks[hc.Name] = err.Error()
			continue
		}
		checks[hc.Name] = "ok"
	}
	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}
