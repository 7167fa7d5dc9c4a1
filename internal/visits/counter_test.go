package visits

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type countingObserver struct {
	mu     sync.Mutex
	visits int
}

func (o *countingObserver) ObserveVisit() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.visits++
}

type brokenStore struct {
	kv.Store
	err error
}

func (s brokenStore) Increment(context.Context, string) (int64, error) {
	return 0, s.err
}

func newRedisStore(t *testing.T) (kv.Store, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := kv.NewRedisStore(client)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store, server
}

func TestVisitIncrementsCounter(t *testing.T) {
	store, server := newRedisStore(t)
	observed := &countingObserver{}
	counter, err := NewCounter(CounterConfig{Store: store, Observer: observed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for expected := int64(1); expected <= 3; expected++ {
		count, err := counter.Visit(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != expected {
			t.Fatalf("expected count %d, got %d", expected, count)
		}
	}

	stored, err := server.Get(CounterKey)
	if err != nil {
		t.Fatalf("counter key missing: %v", err)
	}
	if stored != "3" {
		t.Fatalf("unexpected stored counter %q", stored)
	}
	if observed.visits != 3 {
		t.Fatalf("expected 3 observed visits, got %d", observed.visits)
	}
}

func TestVisitConcurrentIncrementsAreNotLost(t *testing.T) {
	const visitors = 20
	store, _ := newRedisStore(t)
	counter, err := NewCounter(CounterConfig{Store: store})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < visitors; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := counter.Visit(context.Background()); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := counter.Visit(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != visitors+1 {
		t.Fatalf("expected %d, got %d", visitors+1, count)
	}
}

func TestVisitSurfacesStoreFailure(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	counter, err := NewCounter(CounterConfig{
		Store:  brokenStore{err: errors.New("connection reset")},
		Logger: zap.New(core),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := counter.Visit(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero count on failure, got %d", count)
	}
	if logs.FilterMessage("visit counter increment failed").Len() != 1 {
		t.Fatalf("expected failure to be logged")
	}
}

func TestNewCounterRequiresStore(t *testing.T) {
	if _, err := NewCounter(CounterConfig{}); err == nil {
		t.Fatalf("expected error for missing store")
	}
}
