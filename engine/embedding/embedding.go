package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/utakatik/utakatik/engine/core"
)

// DefaultDimension is the width of all-MiniLM-L6-v2 sentence vectors.
const DefaultDimension = 384

// InputSeparator joins name and description when building embedding text.
const InputSeparator = " • "

// Vector is a unit-normalized embedding. Treat it as immutable once produced.
type Vector []float32

// FeatureExtractor runs a feature-extraction model and returns one row per token.
type FeatureExtractor interface {
	Extract(ctx context.Context, text string) ([][]float32, error)
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dimension() int
	ModelID() string
}

// Service embeds text through a lazily loaded model using mean pooling and L2 normalization.
type Service struct {
	model     *Model
	dimension int
}

// NewService builds an embedder around model producing vectors of the given dimension.
func NewService(model *Model, dimension int) (*Service, error) {
	if model == nil {
		return nil, errors.New("embedding model handle is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be greater than zero, got %d", dimension)
	}
	return &Service{model: model, dimension: dimension}, nil
}

func (s *Service) Dimension() int {
	return s.dimension
}

func (s *Service) ModelID() string {
	return s.model.ID()
}

// Embed returns the pooled, normalized vector for text.
// The empty string yields the all-zero vector without loading the model.
func (s *Service) Embed(ctx context.Context, text string) (Vector, error) {
	if text == "" {
		return make(Vector, s.dimension), nil
	}
	extractor, err := s.model.Get(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := extractor.Extract(ctx, text)
	if err != nil {
		if errors.Is(err, core.ErrModelUnavailable) || errors.Is(err, core.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: model %q: %w", core.ErrModelUnavailable, s.model.ID(), err)
	}
	return MeanPool(rows, s.dimension)
}

// MeanPool averages token rows component-wise and L2-normalizes the result.
// Zero rows yield the zero vector; a zero norm is treated as 1.
func MeanPool(rows [][]float32, dimension int) (Vector, error) {
	sum := make([]float64, dimension)
	for i, row := range rows {
		if len(row) != dimension {
			return nil, fmt.Errorf("token %d: %w", i, core.DimensionError(dimension, len(row)))
		}
		for j, value := range row {
			sum[j] += float64(value)
		}
	}
	out := make(Vector, dimension)
	if len(rows) == 0 {
		return out, nil
	}
	count := float64(len(rows))
	var norm float64
	for j := range sum {
		sum[j] /= count
		norm += sum[j] * sum[j]
	}
	norm = math.Sqrt(norm)
	if math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("%w: model produced non-finite features", core.ErrModelUnavailable)
	}
	if norm == 0 {
		norm = 1
	}
	for j := range sum {
		out[j] = float32(sum[j] / norm)
	}
	return out, nil
}

// Norm returns the Euclidean length of v.
func Norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// BuildInput composes the text embedded for a corpus item.
func BuildInput(name, description string) string {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	if description == "" {
		return name
	}
	return name + InputSeparator + description
}
