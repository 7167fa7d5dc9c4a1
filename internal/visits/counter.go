// Package visits maintains the site-wide visitor counter.
package visits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/kv"
	"go.uber.org/zap"
)

// CounterKey is the record store key holding the visit total.
const CounterKey = "site_stats:visits"

const defaultStoreTimeout = 5 * time.Second

var (
	// ErrStoreUnavailable marks a failed or timed out increment.
	ErrStoreUnavailable = errors.New("visits: store unavailable")

	errMissingStore = errors.New("visits: record store is required")
)

// Observer is told about every counted visit.
type Observer interface {
	ObserveVisit()
}

type CounterConfig struct {
	Store        kv.Store
	StoreTimeout time.Duration
	Observer     Observer
	Logger       *zap.Logger
}

// Counter increments the visitor total once per call.
type Counter struct {
	store        kv.Store
	storeTimeout time.Duration
	observer     Observer
	logger       *zap.Logger
}

func NewCounter(cfg CounterConfig) (*Counter, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{
		store:        cfg.Store,
		storeTimeout: timeout,
		observer:     cfg.Observer,
		logger:       logger,
	}, nil
}

// Visit records one visit and returns the new total.
func (c *Counter) Visit(ctx context.Context) (int64, error) {
	storeCtx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()

	count, err := c.store.Increment(storeCtx, CounterKey)
	if err != nil {
		c.logger.Error("visit counter increment failed", zap.String("key", CounterKey), zap.Error(err))
		return 0, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if c.observer != nil {
		c.observer.ObserveVisit()
	}
	return count, nil
}
