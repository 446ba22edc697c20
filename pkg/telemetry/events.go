package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one entry of a run's timeline.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID, if applicable.
	RunID string `json:"run_id,omitempty"`

	// Step is the run state the event belongs to, if applicable.
	Step string `json:"step,omitempty"`

	// Producer is the associated producer, if applicable.
	Producer string `json:"producer,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeRunCancelled    = "run.cancelled"
	EventTypeStateChanged    = "state.changed"
	EventTypeProducerRefresh = "producer.refreshed"
	EventTypeDuplicateDay    = "report.duplicate_day"
	EventTypeReportRendered  = "report.rendered"
	EventTypeWarning         = "warning"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In synchronous mode
// subscribers run on the publishing goroutine, so an event is delivered
// before Publish returns.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closeOnce   sync.Once
	done        chan struct{}
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{
		config: cfg,
		done:   make(chan struct{}),
	}
	if !cfg.Enabled {
		return ep, nil
	}

	if cfg.EnableAsync {
		if cfg.BufferSize <= 0 {
			return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
		}
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case <-ep.done:
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, mode string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started (%s)", runID, mode),
		Data:    map[string]interface{}{"mode": mode},
	})
}

// PublishRunFinished publishes the terminal event of a run.
func (ep *EventPublisher) PublishRunFinished(runID, status string, exitCode int, message string, duration time.Duration) error {
	ev := Event{
		Type:    EventTypeRunCompleted,
		Source:  "engine",
		RunID:   runID,
		Message: message,
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"status":    status,
			"exit_code": exitCode,
			"duration":  duration.Seconds(),
		},
	}
	switch status {
	case "failed":
		ev.Type = EventTypeRunFailed
		ev.Level = EventLevelError
	case "cancelled":
		ev.Type = EventTypeRunCancelled
	}
	return ep.Publish(ev)
}

// PublishStateChanged publishes a state machine transition.
func (ep *EventPublisher) PublishStateChanged(runID, from, to, detail string) error {
	return ep.Publish(Event{
		Type:    EventTypeStateChanged,
		Source:  "engine",
		RunID:   runID,
		Step:    to,
		Message: detail,
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// PublishProducerRefreshed publishes the result of one producer refresh.
func (ep *EventPublisher) PublishProducerRefreshed(runID, producer, result string, port int) error {
	return ep.Publish(Event{
		Type:     EventTypeProducerRefresh,
		Source:   "producer",
		RunID:    runID,
		Producer: producer,
		Message:  fmt.Sprintf("Producer %s: %s", producer, result),
		Data: map[string]interface{}{
			"result": result,
			"port":   port,
		},
	})
}

// PublishWarning publishes a soft failure.
func (ep *EventPublisher) PublishWarning(runID, source, message string) error {
	return ep.Publish(Event{
		Type:    EventTypeWarning,
		Source:  source,
		RunID:   runID,
		Message: message,
		Level:   EventLevelWarning,
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events until shutdown, then drains.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.done:
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all subscribers in registration order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher, delivering any buffered events first.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.closeOnce.Do(func() { close(ep.done) })

	finished := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
