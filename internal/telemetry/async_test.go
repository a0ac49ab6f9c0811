package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockEventEmitter implements EventEmitter for tests.
type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*Event
	emitErr error
	done    chan struct{}
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return m.emitErr
}

func (m *mockEventEmitter) getEvents() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Event(nil), m.events...)
}

func TestEmitAsync_NilEmitter(t *testing.T) {
	// Should not panic
	EmitAsync(nil, &Event{EventType: "mfa.code.issued"})
}

func TestEmitAsync_NilEvent(t *testing.T) {
	m := &mockEventEmitter{}
	EmitAsync(m, nil)
	time.Sleep(10 * time.Millisecond)
	if got := len(m.getEvents()); got != 0 {
		t.Errorf("events = %d, want 0", got)
	}
}

func TestEmitAsync_Delivers(t *testing.T) {
	m := &mockEventEmitter{done: make(chan struct{}, 1)}
	EmitAsync(m, &Event{UserID: "user-1", EventType: "action_token.created"})
	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("emit was not called")
	}
	events := m.getEvents()
	if len(events) != 1 || events[0].UserID != "user-1" || events[0].EventType != "action_token.created" {
		t.Errorf("events = %+v", events)
	}
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	m := &mockEventEmitter{emitErr: errors.New("collector down"), done: make(chan struct{}, 1)}
	EmitAsync(m, &Event{EventType: "mfa.code.failed"})
	select {
	case <-m.done:
	case <-time.After(time.Second):
		t.Fatal("emit was not called")
	}
}

func TestShutdownDrainDuration_CoversEmitTimeout(t *testing.T) {
	if ShutdownDrainDuration < emitTimeout {
		t.Errorf("ShutdownDrainDuration %v < emitTimeout %v", ShutdownDrainDuration, emitTimeout)
	}
}
