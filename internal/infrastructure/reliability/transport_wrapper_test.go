package reliability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/pkg/circuitbreaker"
	"confvideo/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeTransport struct {
	mu          sync.Mutex
	failures    int
	connects    int
	disconnects int
	deadlines   []bool
	handler     ports.PacketHandler
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeTransport) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) OnPacket(h ports.PacketHandler) { f.handler = h }

func testRetry() retry.Config {
	return retry.Config{Enabled: true, MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func testBreaker() circuitbreaker.Config {
	return circuitbreaker.Config{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute, MaxRequestsHalfOpen: 1}
}

func wrap(t *testing.T, transports ...*fakeTransport) *FactoryWrapper {
	t.Helper()
	next := 0
	factory := ports.TransportFactoryFunc(func(domain.ConnectionParams) (ports.MediaTransport, error) {
		tr := transports[next]
		next++
		return tr, nil
	})
	return NewFactoryWrapper(factory, testRetry(), testBreaker(), time.Second, nil, nil)
}

var params = domain.ConnectionParams{ServerAddress: "media.local", Application: "video/weekly", StreamName: "320x2405"}

func TestTransportWrapper_RetriesConnect(t *testing.T) {
	inner := &fakeTransport{failures: 2}
	w := wrap(t, inner)

	tr, err := w.NewTransport(params)
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))

	assert.Equal(t, 3, inner.connects)
	assert.Equal(t, []bool{true, true, true}, inner.deadlines)
	assert.Equal(t, circuitbreaker.StateClosed, w.BreakerStates()["media.local"])
}

func TestTransportWrapper_BreakerSharedPerServer(t *testing.T) {
	first := &fakeTransport{failures: 10}
	second := &fakeTransport{}
	w := wrap(t, first, second)

	tr, err := w.NewTransport(params)
	require.NoError(t, err)
	err = tr.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, first.connects)
	assert.Equal(t, circuitbreaker.StateOpen, w.BreakerStates()["media.local"])

	other, err := w.NewTransport(params)
	require.NoError(t, err)
	err = other.Connect(context.Background())
	assert.True(t, IsBreakerOpen(err))
	assert.Zero(t, second.connects)
}

func TestTransportWrapper_PassesThrough(t *testing.T) {
	inner := &fakeTransport{}
	w := wrap(t, inner)

	tr, err := w.NewTransport(params)
	require.NoError(t, err)

	var got []uint32
	tr.OnPacket(func(pkt domain.VideoPacket) { got = append(got, pkt.Timestamp) })
	inner.handler(domain.VideoPacket{Timestamp: 90})
	assert.Equal(t, []uint32{90}, got)

	require.NoError(t, tr.Disconnect(context.Background()))
	assert.Equal(t, 1, inner.disconnects)
	assert.Same(t, inner, tr.(*TransportWrapper).Unwrap())
}

func TestFactoryWrapper_FactoryError(t *testing.T) {
	factory := ports.TransportFactoryFunc(func(domain.ConnectionParams) (ports.MediaTransport, error) {
		return nil, domain.ErrUnsupportedScheme
	})
	w := NewFactoryWrapper(factory, testRetry(), testBreaker(), 0, nil, nil)

	_, err := w.NewTransport(params)
	assert.ErrorIs(t, err, domain.ErrUnsupportedScheme)
}

type recordingObserver struct {
	states chan circuitbreaker.State
}

func (o *recordingObserver) BreakerStateChanged(_ string, state circuitbreaker.State) {
	o.states <- state
}

func TestFactoryWrapper_ReportsBreakerTransitions(t *testing.T) {
	factory := ports.TransportFactoryFunc(func(domain.ConnectionParams) (ports.MediaTransport, error) {
		return &fakeTransport{failures: 10}, nil
	})
	observer := &recordingObserver{states: make(chan circuitbreaker.State, 4)}
	w := NewFactoryWrapper(factory, testRetry(), testBreaker(), 0, observer, nil)

	tr, err := w.NewTransport(params)
	require.NoError(t, err)
	require.Error(t, tr.Connect(context.Background()))

	select {
	case state := <-observer.states:
		assert.Equal(t, circuitbreaker.StateOpen, state)
	case <-time.After(time.Second):
		t.Fatal("breaker transition not reported")
	}
}

// stallingTransport blocks its first connects until the attempt deadline.
type stallingTransport struct {
	fakeTransport
	stalls int
}

func (s *stallingTransport) Connect(ctx context.Context) error {
	s.mu.Lock()
	stall := s.stalls > 0
	if stall {
		s.stalls--
	}
	s.mu.Unlock()

	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.fakeTransport.Connect(ctx)
}

func TestTransportWrapper_RetriesTimedOutAttempt(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	inner := &stallingTransport{stalls: 1}
	factory := ports.TransportFactoryFunc(func(domain.ConnectionParams) (ports.MediaTransport, error) {
		return inner, nil
	})
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	w := NewFactoryWrapper(factory, cfg, testBreaker(), 20*time.Millisecond, nil, zap.New(core).Sugar())

	tr, err := w.NewTransport(params)
	require.NoError(t, err)
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, 1, inner.connects)

	entries := logs.FilterMessage("media server connect failed, retrying").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "media.local", fields["server"])
	assert.EqualValues(t, "320x2405", fields["stream"])
}

func TestTransportWrapper_CallerDeadlineStopsRetries(t *testing.T) {
	inner := &stallingTransport{stalls: 10}
	factory := ports.TransportFactoryFunc(func(domain.ConnectionParams) (ports.MediaTransport, error) {
		return inner, nil
	})
	w := NewFactoryWrapper(factory, retry.DefaultConfig(), testBreaker(), time.Second, nil, nil)

	tr, err := w.NewTransport(params)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = tr.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 9, inner.stalls)
}

type rejectingTransport struct {
	fakeTransport
}

func (r *rejectingTransport) Connect(ctx context.Context) error {
	_ = r.fakeTransport.Connect(ctx)
	return fmt.Errorf("play 320x2405: %w", domain.ErrNoActiveStream)
}

func TestTransportWrapper_MissingStreamIsNotRetried(t *testing.T) {
	inner := &rejectingTransport{}
	factory := ports.TransportFactoryFunc(func(domain.ConnectionParams) (ports.MediaTransport, error) {
		return inner, nil
	})
	w := NewFactoryWrapper(factory, testRetry(), testBreaker(), time.Second, nil, nil)

	tr, err := w.NewTransport(params)
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Connect(context.Background()), domain.ErrNoActiveStream)
	assert.Equal(t, 1, inner.connects)
}
