package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crew/pkg/domain"
	dErrors "crew/pkg/domainerrors"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (s *captureSink) Append(_ context.Context, event Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestEmitSyncAppendsDirectly(t *testing.T) {
	sink := &captureSink{}
	p := NewPublisher(sink)

	err := p.Emit(context.Background(), Event{Action: ActionLogin, UserID: domain.NewUserID()})
	require.NoError(t, err)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, ActionLogin, events[0].Action)
	assert.False(t, events[0].Timestamp.IsZero(), "timestamp should be stamped on emit")
}

func TestAsyncEmitDrainsOnClose(t *testing.T) {
	sink := &captureSink{}
	p := NewPublisher(sink, WithAsyncBuffer(16))

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Emit(context.Background(), Event{Action: ActionSignup}))
	}
	p.Close()

	assert.Len(t, sink.all(), 10)
}

func TestAsyncEmitDropsWhenBufferFull(t *testing.T) {
	sink := &captureSink{block: make(chan struct{})}
	p := NewPublisher(sink, WithAsyncBuffer(1))
	defer func() {
		close(sink.block)
		p.Close()
	}()

	// First event is picked up by the worker and blocks in the sink; the
	// second fills the buffer.
	require.NoError(t, p.Emit(context.Background(), Event{Action: ActionLogin}))
	require.NoError(t, p.Emit(context.Background(), Event{Action: ActionLogin}))

	var err error
	for i := 0; i < 8; i++ {
		if err = p.Emit(context.Background(), Event{Action: ActionLogin}); err != nil {
			break
		}
	}
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
}
