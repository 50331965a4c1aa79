package reliability

import (
	"context"
	"errors"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/pkg/circuitbreaker"
	"confvideo/pkg/retry"

	"go.uber.org/zap"
)

// TransportWrapper guards transport connects with a per-server circuit
// breaker, a per-attempt timeout and retries.
type TransportWrapper struct {
	transport ports.MediaTransport
	breaker   *circuitbreaker.CircuitBreaker

	retryConfig    retry.Config
	connectTimeout time.Duration
	logger         *zap.SugaredLogger
}

func (w *TransportWrapper) Connect(ctx context.Context) error {
	cfg := w.retryConfig
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		w.logger.Warnw("media server connect failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}

	// an attempt that hit its own timeout is retried while ctx is live
	return retry.Retry(ctx, cfg, func() error {
		return w.breaker.Execute(ctx, func(ctx context.Context) error {
			if w.connectTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, w.connectTimeout)
				defer cancel()
			}
			return w.transport.Connect(ctx)
		})
	})
}

func (w *TransportWrapper) Disconnect(ctx context.Context) error {
	return w.transport.Disconnect(ctx)
}

func (w *TransportWrapper) OnPacket(handler ports.PacketHandler) {
	w.transport.OnPacket(handler)
}

// Unwrap returns the guarded transport.
func (w *TransportWrapper) Unwrap() ports.MediaTransport { return w.transport }

// BreakerObserver is told about every media server breaker transition.
type BreakerObserver interface {
	BreakerStateChanged(server string, state circuitbreaker.State)
}

// FactoryWrapper decorates every transport a factory creates. Breakers are
// shared by all transports dialing the same server.
type FactoryWrapper struct {
	factory        ports.TransportFactory
	breakers       *circuitbreaker.Registry
	retryConfig    retry.Config
	connectTimeout time.Duration
	logger         *zap.SugaredLogger
}

func NewFactoryWrapper(
	factory ports.TransportFactory,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	connectTimeout time.Duration,
	observer BreakerObserver,
	logger *zap.SugaredLogger,
) *FactoryWrapper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	w := &FactoryWrapper{
		factory:        factory,
		connectTimeout: connectTimeout,
		logger:         logger,
	}

	w.breakers = circuitbreaker.NewRegistry(cbConfig, func(server string, from, to circuitbreaker.State) {
		logger.Infow("media server circuit breaker state changed",
			"server", server,
			"from", from.String(),
			"to", to.String(),
		)
		if observer != nil {
			observer.BreakerStateChanged(server, to)
		}
	})

	nonRetryable := []error{
		circuitbreaker.ErrOpen,
		domain.ErrTransportClosed,
		domain.ErrNoActiveStream,
		context.Canceled,
	}
	for _, err := range retryConfig.NonRetryableErrors {
		if !errors.Is(err, context.DeadlineExceeded) {
			nonRetryable = append(nonRetryable, err)
		}
	}
	retryConfig.NonRetryableErrors = nonRetryable
	w.retryConfig = retryConfig

	return w
}

func (w *FactoryWrapper) NewTransport(params domain.ConnectionParams) (ports.MediaTransport, error) {
	transport, err := w.factory.NewTransport(params)
	if err != nil {
		return nil, err
	}

	return &TransportWrapper{
		transport:      transport,
		breaker:        w.breakers.Get(params.ServerAddress),
		retryConfig:    w.retryConfig,
		connectTimeout: w.connectTimeout,
		logger:         w.logger.With("server", params.ServerAddress, "stream", params.StreamName),
	}, nil
}

// BreakerStates reports each known media server's breaker state.
func (w *FactoryWrapper) BreakerStates() map[string]circuitbreaker.State {
	return w.breakers.States()
}

// IsBreakerOpen reports whether err was a connect rejected by an open breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, circuitbreaker.ErrOpen)
}
