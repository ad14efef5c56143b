// Package events provides the core event bus implementation.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calliope-audio/calliope/internal/logger"
)

// eventBus implements the EventBus interface
type eventBus struct {
	config EventBusConfig

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	eventChannel  chan Event
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup

	// Rolling buffer of recently published events
	recentEvents []Event
	eventStats   EventStats
}

// NewEventBus creates a new event bus instance
func NewEventBus(config EventBusConfig) EventBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultEventBusConfig().BufferSize
	}
	if config.MaxStoredEvents <= 0 {
		config.MaxStoredEvents = DefaultEventBusConfig().MaxStoredEvents
	}
	return &eventBus{
		config:        config,
		subscriptions: make(map[string]*Subscription),
		eventChannel:  make(chan Event, config.BufferSize),
		recentEvents:  make([]Event, 0, config.MaxStoredEvents),
		stopCh:        make(chan struct{}),
	}
}

// Start starts the event bus
func (eb *eventBus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.running {
		return fmt.Errorf("event bus is already running")
	}

	eb.running = true
	eb.stopCh = make(chan struct{})

	eb.wg.Add(1)
	go eb.processEvents(ctx)

	logger.Debug("Event bus started", "buffer_size", eb.config.BufferSize)
	return nil
}

// Stop stops the event bus gracefully
func (eb *eventBus) Stop(ctx context.Context) error {
	eb.mu.Lock()
	if !eb.running {
		eb.mu.Unlock()
		return nil
	}
	eb.running = false
	eb.mu.Unlock()

	// The event channel stays open: a publisher that passed the running
	// check concurrently with Stop must not hit a closed channel. The
	// dispatcher exits through stopCh and late events are dropped.
	close(eb.stopCh)

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debug("Event bus stopped")
	case <-ctx.Done():
		logger.Warn("Event bus stop timed out")
		return ctx.Err()
	}

	return nil
}

// Publish publishes an event to the event bus
func (eb *eventBus) Publish(ctx context.Context, event Event) error {
	if err := eb.prepare(&event); err != nil {
		return err
	}

	select {
	case eb.eventChannel <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		logger.Warn("Event channel full, dropping event", "event_type", event.Type, "event_id", event.ID)
		return fmt.Errorf("event channel full")
	}
}

// PublishAsync publishes an event asynchronously (non-blocking)
func (eb *eventBus) PublishAsync(event Event) error {
	if err := eb.prepare(&event); err != nil {
		return err
	}

	select {
	case eb.eventChannel <- event:
		return nil
	default:
		logger.Warn("Event channel full, dropping event (async)", "event_type", event.Type, "event_id", event.ID)
		return fmt.Errorf("event channel full")
	}
}

// prepare validates the event and fills defaulted fields.
func (eb *eventBus) prepare(event *Event) error {
	eb.mu.RLock()
	running := eb.running
	eb.mu.RUnlock()
	if !running {
		return fmt.Errorf("event bus is not running")
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.Source == "" {
		return fmt.Errorf("event source is required")
	}
	return nil
}

// Subscribe subscribes to events matching the filter
func (eb *eventBus) Subscribe(ctx context.Context, filter EventFilter, handler EventHandler) (*Subscription, error) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscription := &Subscription{
		ID:         "sub-" + uuid.NewString(),
		Filter:     filter,
		Handler:    handler,
		Subscriber: "system",
		Created:    time.Now(),
	}

	eb.subscriptions[subscription.ID] = subscription

	logger.Debug("New subscription created", "subscription_id", subscription.ID, "types", filter.Types)
	return subscription, nil
}

// Unsubscribe removes a subscription
func (eb *eventBus) Unsubscribe(subscriptionID string) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, exists := eb.subscriptions[subscriptionID]; !exists {
		return fmt.Errorf("subscription not found: %s", subscriptionID)
	}

	delete(eb.subscriptions, subscriptionID)
	return nil
}

// GetSubscriptions returns all active subscriptions
func (eb *eventBus) GetSubscriptions() []*Subscription {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	subscriptions := make([]*Subscription, 0, len(eb.subscriptions))
	for _, sub := range eb.subscriptions {
		subscriptions = append(subscriptions, sub)
	}

	return subscriptions
}

// GetEvents returns recently published events matching the filter
func (eb *eventBus) GetEvents(filter EventFilter, limit, offset int) ([]Event, int64, error) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	filtered := FilterEvents(eb.recentEvents, filter)

	total := int64(len(filtered))
	start := offset
	end := offset + limit

	if start >= len(filtered) {
		return []Event{}, total, nil
	}
	if end > len(filtered) || limit <= 0 {
		end = len(filtered)
	}

	return filtered[start:end], total, nil
}

// GetStats returns event bus statistics
func (eb *eventBus) GetStats() EventStats {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	stats := eb.eventStats
	stats.ActiveSubscriptions = len(eb.subscriptions)
	stats.RecentEvents = append([]Event{}, eb.recentEvents...)
	return stats
}

// Health returns the health status of the event bus
func (eb *eventBus) Health() error {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if !eb.running {
		return fmt.Errorf("event bus is not running")
	}

	channelUsage := float64(len(eb.eventChannel)) / float64(cap(eb.eventChannel))
	if channelUsage > 0.9 {
		return fmt.Errorf("event channel is %d%% full", int(channelUsage*100))
	}

	return nil
}

// processEvents processes events from the channel
func (eb *eventBus) processEvents(ctx context.Context) {
	defer eb.wg.Done()

	for {
		select {
		case <-eb.stopCh:
			return
		case <-ctx.Done():
			return
		case event := <-eb.eventChannel:
			eb.handleEvent(event)
		}
	}
}

// handleEvent dispatches a single event to matching subscribers.
func (eb *eventBus) handleEvent(event Event) {
	eb.mu.Lock()
	eb.recentEvents = append(eb.recentEvents, event)
	if len(eb.recentEvents) > eb.config.MaxStoredEvents {
		eb.recentEvents = eb.recentEvents[1:]
	}

	eb.eventStats.TotalEvents++
	if eb.eventStats.EventsByType == nil {
		eb.eventStats.EventsByType = make(map[string]int64)
	}
	eb.eventStats.EventsByType[string(event.Type)]++

	var matching []*Subscription
	for _, sub := range eb.subscriptions {
		if MatchesFilter(event, sub.Filter) {
			matching = append(matching, sub)
		}
	}
	eb.mu.Unlock()

	for _, sub := range matching {
		eb.notifySubscriber(sub, event)
	}
}

// notifySubscriber notifies a subscriber about an event
func (eb *eventBus) notifySubscriber(subscription *Subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in event handler", "subscription_id", subscription.ID, "error", r, "event_id", event.ID)
		}
	}()

	if err := subscription.Handler(event); err != nil {
		logger.Error("Event handler error", "subscription_id", subscription.ID, "error", err, "event_id", event.ID)
		return
	}

	eb.mu.Lock()
	subscription.TriggerCount++
	now := time.Now()
	subscription.LastTriggered = &now
	eb.mu.Unlock()
}
