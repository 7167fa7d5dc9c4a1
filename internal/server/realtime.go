package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/prompt-gallery/internal/prompts"
)

const (
	RealtimeEventPromptChanged = "prompt-change"
	realtimeEventHeartbeat     = "heartbeat"
	realtimeSourceBackend      = "prompt-gallery"
	defaultRealtimeBufferSize  = 16
)

// Audience scopes which realtime events a subscriber receives.
type Audience string

const (
	AudiencePublic Audience = "public"
	AudienceAdmin  Audience = "admin"
)

type RealtimeMessage struct {
	EventType string
	Change    prompts.ChangeKind
	PromptIDs []string
	Timestamp time.Time
}

// SubscriptionObserver is told when event streams open and close.
type SubscriptionObserver interface {
	SubscriberOpened()
	SubscriberClosed()
}

type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[Audience]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
	observer    SubscriptionObserver
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[Audience]map[int64]*realtimeSubscriber),
		bufferSize:  defaultRealtimeBufferSize,
		clock:       time.Now,
	}
}

// WithObserver attaches an observer for subscription counts.
func (d *RealtimeDispatcher) WithObserver(observer SubscriptionObserver) *RealtimeDispatcher {
	d.observer = observer
	return d
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, audience Audience) (<-chan RealtimeMessage, func()) {
	if audience != AudiencePublic && audience != AudienceAdmin {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(audience, subscriber)
	if d.observer != nil {
		d.observer.SubscriberOpened()
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(audience, subscriber.id)
			if d.observer != nil {
				d.observer.SubscriberClosed()
			}
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message to every subscriber of the given audiences. Full
// subscriber buffers drop the message.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage, audiences ...Audience) {
	if message.EventType == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*realtimeSubscriber, 0)
	for _, audience := range audiences {
		for _, subscriber := range d.subscribers[audience] {
			copies = append(copies, subscriber)
		}
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// NotifyPromptChange fans a committed prompt mutation out to admins, and to
// public subscribers when the prompt is publicly visible.
func (d *RealtimeDispatcher) NotifyPromptChange(notice prompts.ChangeNotice) {
	if notice.PromptID == "" {
		return
	}
	audiences := []Audience{AudienceAdmin}
	if notice.PublicVisible {
		audiences = append(audiences, AudiencePublic)
	}
	d.Publish(RealtimeMessage{
		EventType: RealtimeEventPromptChanged,
		Change:    notice.Kind,
		PromptIDs: []string{notice.PromptID},
		Timestamp: d.clock().UTC(),
	}, audiences...)
}

func (d *RealtimeDispatcher) subscriberCount(audience Audience) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[audience])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(audience Audience, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[audience]; !ok {
		d.subscribers[audience] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[audience][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(audience Audience, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[audience]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, audience)
		}
	}
	d.mu.Unlock()
}
