package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/auth"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/blob"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/kv"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/metrics"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/prompts"
	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/visits"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	testAdminSecret  = "gallery-admin"
	testBlobServe    = "/blobs"
	testClockMillis  = int64(1700000000000)
	testStoreTimeout = time.Second
)

type routerFixture struct {
	handler    http.Handler
	redis      *miniredis.Miniredis
	store      kv.Store
	blobRoot   string
	dispatcher *RealtimeDispatcher
	metrics    *metrics.Metrics
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	return newRouterFixtureWithHeartbeat(t, time.Hour)
}

func newRouterFixtureWithHeartbeat(t *testing.T, heartbeat time.Duration) routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	redisServer := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store, err := kv.NewRedisStore(client)
	if err != nil {
		t.Fatalf("failed to build record store: %v", err)
	}

	blobRoot := t.TempDir()
	blobs, err := blob.NewFilesystemStore(blobRoot, testBlobServe)
	if err != nil {
		t.Fatalf("failed to build blob store: %v", err)
	}

	authorizer, err := auth.NewAdminAuthorizer(auth.AdminAuthorizerConfig{Secret: testAdminSecret})
	if err != nil {
		t.Fatalf("failed to build authorizer: %v", err)
	}

	collectors := metrics.New()
	dispatcher := NewRealtimeDispatcher().WithObserver(collectors)
	promptService, err := prompts.NewService(prompts.ServiceConfig{
		Store:        store,
		Blobs:        blobs,
		Authorizer:   authorizer,
		IDProvider:   prompts.NewUUIDProvider(),
		Clock:        func() time.Time { return time.UnixMilli(testClockMillis) },
		StoreTimeout: testStoreTimeout,
		Notifier:     dispatcher,
		Recorder:     collectors,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build prompt service: %v", err)
	}

	counter, err := visits.NewCounter(visits.CounterConfig{
		Store:        store,
		StoreTimeout: testStoreTimeout,
		Observer:     collectors,
	})
	if err != nil {
		t.Fatalf("failed to build visit counter: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Prompts:       promptService,
		Visits:        counter,
		Realtime:      dispatcher,
		Metrics:       collectors,
		Heartbeat:     heartbeat,
		BlobDirectory: blobRoot,
		BlobServePath: testBlobServe,
		Logger:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return routerFixture{
		handler:    handler,
		redis:      redisServer,
		store:      store,
		blobRoot:   blobRoot,
		dispatcher: dispatcher,
		metrics:    collectors,
	}
}

func (f routerFixture) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	switch typed := body.(type) {
	case nil:
		payload = bytes.NewReader(nil)
	case string:
		payload = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		payload = bytes.NewReader(encoded)
	}

	request := httptest.NewRequest(method, target, payload)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var decoded T
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func adminHeaders() map[string]string {
	return map[string]string{adminCredentialHeader: testAdminSecret}
}
