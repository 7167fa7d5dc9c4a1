package prompts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/kv"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	testAdminSecret = "gallery-admin"
	testClockMillis = int64(1700000000000)
)

type stubAuthorizer struct {
	secret string
}

func (a stubAuthorizer) IsAdmin(candidate string) bool {
	return candidate != "" && candidate == a.secret
}

type staticIDProvider struct {
	id string
}

func (p staticIDProvider) NewID() (string, error) {
	return p.id, nil
}

type recordingBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newRecordingBlobStore() *recordingBlobStore {
	return &recordingBlobStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *recordingBlobStore) Put(_ context.Context, objectPath string, data []byte, contentType string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectPath] = append([]byte(nil), data...)
	s.types[objectPath] = contentType
	return "https://cdn.example.com/" + objectPath, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []ChangeNotice
}

func (n *recordingNotifier) NotifyPromptChange(notice ChangeNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

type failingStore struct {
	err error
}

func (s failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, s.err
}

func (s failingStore) Put(context.Context, string, []byte) error {
	return s.err
}

func (s failingStore) Delete(context.Context, string) error {
	return s.err
}

func (s failingStore) List(context.Context, string) ([]kv.Entry, error) {
	return nil, s.err
}

func (s failingStore) Increment(context.Context, string) (int64, error) {
	return 0, s.err
}

func (s failingStore) Update(context.Context, string, kv.MutateFunc) ([]byte, error) {
	return nil, s.err
}

// blockingStore waits for the caller's deadline when listing.
type blockingStore struct {
	failingStore
}

func (s blockingStore) List(ctx context.Context, _ string) ([]kv.Entry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type serviceFixture struct {
	service  *Service
	store    kv.Store
	blobs    *recordingBlobStore
	notifier *recordingNotifier
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := kv.NewRedisStore(client)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return newServiceFixtureWithStore(t, store, zap.NewNop())
}

func newServiceFixtureWithStore(t *testing.T, store kv.Store, logger *zap.Logger) serviceFixture {
	t.Helper()
	blobs := newRecordingBlobStore()
	notifier := &recordingNotifier{}
	service, err := NewService(ServiceConfig{
		Store:        store,
		Blobs:        blobs,
		Authorizer:   stubAuthorizer{secret: testAdminSecret},
		IDProvider:   staticIDProvider{id: "generated-id"},
		Clock:        func() time.Time { return time.UnixMilli(testClockMillis) },
		StoreTimeout: time.Second,
		Notifier:     notifier,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return serviceFixture{service: service, store: store, blobs: blobs, notifier: notifier}
}

func seedRaw(t *testing.T, store kv.Store, id, raw string) {
	t.Helper()
	if err := store.Put(context.Background(), StorageKey(id), []byte(raw)); err != nil {
		t.Fatalf("failed to seed %s: %v", id, err)
	}
}

func loadStored(t *testing.T, store kv.Store, id string) (Prompt, map[string]json.RawMessage) {
	t.Helper()
	raw, err := store.Get(context.Background(), StorageKey(id))
	if err != nil {
		t.Fatalf("failed to load %s: %v", id, err)
	}
	var prompt Prompt
	if err := json.Unmarshal(raw, &prompt); err != nil {
		t.Fatalf("stored record is not a prompt: %v", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("stored record is not an object: %v", err)
	}
	return prompt, fields
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
