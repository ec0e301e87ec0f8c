package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a package lifecycle event.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// AttemptID correlates the events of one executor run.
	AttemptID string `json:"attempt_id,omitempty"`

	// ComponentID is the component the event is about.
	ComponentID string `json:"component_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypePackageStarted   = "package.started"
	EventTypePhaseCompleted   = "package.phase_completed"
	EventTypePackageCompleted = "package.completed"
	EventTypePackageFailed    = "package.failed"
	EventTypePolicyViolation  = "policy.violation"
	EventTypeResolverConflict = "resolver.conflict"
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

// EventPublisher manages event publishing and subscriptions. In
// synchronous mode subscribers run on the publishing goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
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
		event.Timestamp = time.Now()
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
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishPackageStarted publishes a package started event.
func (ep *EventPublisher) PublishPackageStarted(attemptID, componentID, version, packageType string, phase, phases int) error {
	return ep.Publish(Event{
		Type:        EventTypePackageStarted,
		Source:      "executor",
		AttemptID:   attemptID,
		ComponentID: componentID,
		Message:     fmt.Sprintf("%s package %s %s started phase %d of %d", packageType, componentID, version, phase+1, phases),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"version": version,
			"type":    packageType,
			"phase":   phase,
			"phases":  phases,
		},
	})
}

// PublishPhaseCompleted publishes the end of a non-final phase.
func (ep *EventPublisher) PublishPhaseCompleted(attemptID, componentID string, phase int, duration time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypePhaseCompleted,
		Source:      "executor",
		AttemptID:   attemptID,
		ComponentID: componentID,
		Message:     fmt.Sprintf("Phase %d of %s completed, restart required", phase, componentID),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"phase":    phase,
			"duration": duration.Seconds(),
		},
	})
}

// PublishPackageCompleted publishes a successful package event.
func (ep *EventPublisher) PublishPackageCompleted(attemptID, componentID, version string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:        EventTypePackageCompleted,
		Source:      "executor",
		AttemptID:   attemptID,
		ComponentID: componentID,
		Message:     fmt.Sprintf("Package %s %s completed", componentID, version),
		Level:       EventLevelInfo,
		Data: map[string]interface{}{
			"version":  version,
			"duration": duration.Seconds(),
		},
	})
}

// PublishPackageFailed publishes a faulty package event.
func (ep *EventPublisher) PublishPackageFailed(attemptID, componentID, version, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypePackageFailed,
		Source:      "executor",
		AttemptID:   attemptID,
		ComponentID: componentID,
		Message:     fmt.Sprintf("Package %s %s failed: %s", componentID, version, reason),
		Level:       EventLevelError,
		Data: map[string]interface{}{
			"version": version,
			"reason":  reason,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(componentID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypePolicyViolation,
		Source:      "policy_engine",
		ComponentID: componentID,
		Message:     fmt.Sprintf("Policy violation on %s: %s - %s", componentID, policyName, reason),
		Level:       EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// PublishResolverConflict publishes a resolver error for a component.
func (ep *EventPublisher) PublishResolverConflict(componentID, code, reason string) error {
	return ep.Publish(Event{
		Type:        EventTypeResolverConflict,
		Source:      "resolver",
		ComponentID: componentID,
		Message:     fmt.Sprintf("Resolver rejected %s: %s", componentID, reason),
		Level:       EventLevelWarning,
		Data: map[string]interface{}{
			"code": code,
		},
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

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}
		case <-ep.ctx.Done():
			// Drain what is left before shutting down
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers.
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

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

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

// FilterByComponent creates a filter that only allows events of one component.
func FilterByComponent(componentID string) EventFilter {
	return func(event Event) bool {
		return event.ComponentID == componentID
	}
}
