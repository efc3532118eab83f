package httpapi

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/emitra/internal/model"
)

// InquiryEvent announces a newly stored inquiry to admin stream clients.
// Missed counts events this subscriber lost to a full buffer since its last
// delivery; a non-zero value tells the console to refetch the list.
type InquiryEvent struct {
	InquiryID   uint64
	Kind        model.InquiryKind
	Internal    bool
	CreatedAt   time.Time
	UnreadCount int64
	Missed      int
}

const inquiryEventDefaultBuffer = 8

type inquirySubscriber struct {
	events chan InquiryEvent
	missed int
}

// InquiryEventBroadcaster fans out inquiry events to the open admin streams.
type InquiryEventBroadcaster struct {
	mutex        sync.Mutex
	nextID       int64
	subscribers  map[int64]*inquirySubscriber
	closed       bool
	bufferLength int
}

func NewInquiryEventBroadcaster() *InquiryEventBroadcaster {
	return &InquiryEventBroadcaster{
		subscribers:  make(map[int64]*inquirySubscriber),
		bufferLength: inquiryEventDefaultBuffer,
	}
}

// Subscribe returns a subscription, or nil once the broadcaster is closed.
func (broadcaster *InquiryEventBroadcaster) Subscribe() *InquiryEventSubscription {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return nil
	}
	identifier := broadcaster.nextID
	broadcaster.nextID++
	subscriber := &inquirySubscriber{events: make(chan InquiryEvent, broadcaster.bufferLength)}
	broadcaster.subscribers[identifier] = subscriber
	return &InquiryEventSubscription{
		broadcaster: broadcaster,
		identifier:  identifier,
		events:      subscriber.events,
	}
}

// Broadcast never blocks: a subscriber with a full buffer skips the event and
// learns how many it skipped on its next delivery.
func (broadcaster *InquiryEventBroadcaster) Broadcast(event InquiryEvent) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	for _, subscriber := range broadcaster.subscribers {
		delivered := event
		delivered.Missed = subscriber.missed
		select {
		case subscriber.events <- delivered:
			subscriber.missed = 0
		default:
			subscriber.missed++
		}
	}
}

// Subscribers reports how many admin streams are open.
func (broadcaster *InquiryEventBroadcaster) Subscribers() int {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	return len(broadcaster.subscribers)
}

// Close stops the broadcaster and ends every open stream.
func (broadcaster *InquiryEventBroadcaster) Close() {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	broadcaster.closed = true
	for identifier, subscriber := range broadcaster.subscribers {
		close(subscriber.events)
		delete(broadcaster.subscribers, identifier)
	}
}

func (broadcaster *InquiryEventBroadcaster) remove(identifier int64) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if subscriber, exists := broadcaster.subscribers[identifier]; exists {
		delete(broadcaster.subscribers, identifier)
		close(subscriber.events)
	}
}

// InquiryEventSubscription is one admin stream.
type InquiryEventSubscription struct {
	broadcaster *InquiryEventBroadcaster
	identifier  int64
	events      chan InquiryEvent
	once        sync.Once
}

func (subscription *InquiryEventSubscription) Events() <-chan InquiryEvent {
	if subscription == nil {
		return nil
	}
	return subscription.events
}

// Close unregisters the subscription; repeated calls are no-ops.
func (subscription *InquiryEventSubscription) Close() {
	if subscription == nil {
		return
	}
	subscription.once.Do(func() {
		if subscription.broadcaster != nil {
			subscription.broadcaster.remove(subscription.identifier)
		}
	})
}

func broadcastInquiryEvent(ctx context.Context, store InquiryStore, logger *zap.Logger, broadcaster *InquiryEventBroadcaster, inquiry model.Inquiry) {
	if broadcaster == nil {
		return
	}
	timestamp := inquiry.CreatedAt
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	unreadCount, countErr := store.CountUnread(ctx)
	if countErr != nil {
		logger.Debug("count_unread_inquiries_failed", zap.Error(countErr))
		unreadCount = 0
	}
	broadcaster.Broadcast(InquiryEvent{
		InquiryID:   inquiry.ID,
		Kind:        inquiry.Kind,
		Internal:    inquiry.Internal,
		CreatedAt:   timestamp,
		UnreadCount: unreadCount,
	})
}
