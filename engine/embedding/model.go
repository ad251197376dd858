package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/utakatik/utakatik/engine/core"
	"github.com/utakatik/utakatik/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// Loader initializes a feature extractor. It may be slow; it runs at most once per successful load.
type Loader func(ctx context.Context) (FeatureExtractor, error)

// Model is a lazily initialized, shared handle to a feature extractor.
// Concurrent first callers wait on the same in-flight load. Failed loads are not cached.
type Model struct {
	id        string
	load      Loader
	group     singleflight.Group
	mu        sync.RWMutex
	extractor FeatureExtractor
}

// NewModel creates an unloaded handle.
func NewModel(id string, load Loader) *Model {
	return &Model{id: id, load: load}
}

// StaticModel wraps an already constructed extractor.
func StaticModel(id string, extractor FeatureExtractor) *Model {
	return &Model{id: id, extractor: extractor}
}

func (m *Model) ID() string {
	return m.id
}

// Loaded reports whether the extractor is ready.
func (m *Model) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.extractor != nil
}

// Get returns the extractor, loading it on first use.
func (m *Model) Get(ctx context.Context) (FeatureExtractor, error) {
	if extractor := m.current(); extractor != nil {
		return extractor, nil
	}
	if m.load == nil {
		return nil, fmt.Errorf("%w: model %q has no loader", core.ErrModelUnavailable, m.id)
	}
	ch := m.group.DoChan(m.id, func() (any, error) {
		if extractor := m.current(); extractor != nil {
			return extractor, nil
		}
		// the shared load outlives any single caller's context
		extractor, err := m.load(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if extractor == nil {
			return nil, errors.New("loader returned no extractor")
		}
		m.mu.Lock()
		m.extractor = extractor
		m.mu.Unlock()
		logger.FromContext(ctx).Info("embedding model loaded", "model", m.id)
		return extractor, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: model %q: %w", core.ErrModelUnavailable, m.id, res.Err)
		}
		extractor, ok := res.Val.(FeatureExtractor)
		if !ok {
			return nil, fmt.Errorf("%w: model %q: unexpected loader result", core.ErrModelUnavailable, m.id)
		}
		return extractor, nil
	}
}

func (m *Model) current() FeatureExtractor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.extractor
}
