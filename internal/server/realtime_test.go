package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/prompts"
)

func TestRealtimeDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, AudiencePublic)
	defer cleanup()

	dispatcher.NotifyPromptChange(prompts.ChangeNotice{
		Kind:          prompts.ChangeKindLiked,
		PromptID:      "prompt-a",
		PublicVisible: true,
	})

	select {
	case received := <-stream:
		if received.EventType != RealtimeEventPromptChanged {
			t.Fatalf("expected event type %s, got %s", RealtimeEventPromptChanged, received.EventType)
		}
		if received.Change != prompts.ChangeKindLiked {
			t.Fatalf("expected liked change, got %s", received.Change)
		}
		if len(received.PromptIDs) != 1 || received.PromptIDs[0] != "prompt-a" {
			t.Fatalf("unexpected prompt ids %v", received.PromptIDs)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestRealtimeDispatcherHidesModerationFromPublic(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publicStream, publicCleanup := dispatcher.Subscribe(ctx, AudiencePublic)
	defer publicCleanup()

	adminStream, adminCleanup := dispatcher.Subscribe(ctx, AudienceAdmin)
	defer adminCleanup()

	dispatcher.NotifyPromptChange(prompts.ChangeNotice{
		Kind:          prompts.ChangeKindUpserted,
		PromptID:      "pending-1",
		PublicVisible: false,
	})

	select {
	case <-publicStream:
		t.Fatal("did not expect pending submission on public stream")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-adminStream:
		if msg.PromptIDs[0] != "pending-1" {
			t.Fatalf("expected pending-1, received %v", msg.PromptIDs)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for admin subscriber")
	}
}

type countingSubscriptions struct {
	mu   sync.Mutex
	open int
}

func (c *countingSubscriptions) SubscriberOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open++
}

func (c *countingSubscriptions) SubscriberClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open--
}

func (c *countingSubscriptions) current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func TestRealtimeDispatcherCleanupIsIdempotent(t *testing.T) {
	observer := &countingSubscriptions{}
	dispatcher := NewRealtimeDispatcher().WithObserver(observer)
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanup := dispatcher.Subscribe(ctx, AudienceAdmin)
	if observer.current() != 1 || dispatcher.subscriberCount(AudienceAdmin) != 1 {
		t.Fatalf("expected one open subscription")
	}

	cleanup()
	cancel()
	cleanup()

	// give the context watcher a chance to run its own cleanup
	time.Sleep(50 * time.Millisecond)
	if observer.current() != 0 {
		t.Fatalf("expected subscription count to return to zero, got %d", observer.current())
	}
	if dispatcher.subscriberCount(AudienceAdmin) != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
}

func TestRealtimeDispatcherDropsWhenBufferFull(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, AudiencePublic)
	defer cleanup()

	for i := 0; i < defaultRealtimeBufferSize+5; i++ {
		dispatcher.NotifyPromptChange(prompts.ChangeNotice{Kind: prompts.ChangeKindLiked, PromptID: "p", PublicVisible: true})
	}
	if len(stream) != defaultRealtimeBufferSize {
		t.Fatalf("expected buffer to hold %d messages, got %d", defaultRealtimeBufferSize, len(stream))
	}
}

func TestRealtimeDispatcherRejectsUnknownAudience(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	stream, cleanup := dispatcher.Subscribe(context.Background(), Audience("operators"))
	defer cleanup()

	if _, ok := <-stream; ok {
		t.Fatal("expected closed stream for unknown audience")
	}
}
