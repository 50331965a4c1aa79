// Package transport builds the media transports video sessions play
// streams through.
package transport

import (
	"fmt"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/internal/infrastructure/reliability"
	"confvideo/internal/infrastructure/transport/rtmp"
	"confvideo/internal/infrastructure/transport/whep"
	"confvideo/pkg/circuitbreaker"
	"confvideo/pkg/config"
	"confvideo/pkg/retry"

	"go.uber.org/zap"
)

const (
	SchemeRTMP = "rtmp"
	SchemeWHEP = "whep"
)

// Factory creates one transport per session for the configured scheme.
type Factory struct {
	scheme string
	rtmp   rtmp.Config
	whep   whep.Config
	logger *zap.SugaredLogger
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Factory{
		scheme: cfg.Transport.Scheme,
		rtmp: rtmp.Config{
			Port:      cfg.Transport.RTMP.Port,
			ChunkSize: cfg.Transport.RTMP.ChunkSize,
		},
		whep: whep.Config{
			Endpoint:   cfg.Transport.WHEP.Endpoint,
			ICEServers: cfg.Transport.WHEP.ICEServers,
		},
		logger: logger,
	}
}

func (f *Factory) NewTransport(params domain.ConnectionParams) (ports.MediaTransport, error) {
	logger := f.logger.With("scheme", f.scheme, "stream", params.StreamName)

	switch f.scheme {
	case SchemeRTMP:
		return rtmp.NewTransport(params, f.rtmp, logger), nil
	case SchemeWHEP:
		tr, err := whep.NewTransport(params, f.whep, logger)
		if err != nil {
			return nil, err
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedScheme, f.scheme)
	}
}

// NewReliableFactory wraps the scheme factory with the configured retry
// policy and per-server circuit breakers.
func NewReliableFactory(cfg *config.Config, observer reliability.BreakerObserver, logger *zap.SugaredLogger) *reliability.FactoryWrapper {
	retryCfg := retry.DefaultConfig()
	retryCfg.Enabled = cfg.Transport.Retry.Enabled
	retryCfg.MaxAttempts = cfg.Transport.Retry.MaxAttempts
	retryCfg.InitialDelay = cfg.Transport.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Transport.Retry.MaxDelay

	cbCfg := circuitbreaker.DefaultConfig()
	cbCfg.FailureThreshold = cfg.Transport.CircuitBreaker.FailureThreshold
	if cfg.Transport.CircuitBreaker.Timeout > 0 {
		cbCfg.Timeout = cfg.Transport.CircuitBreaker.Timeout
	}

	return reliability.NewFactoryWrapper(
		NewFactory(cfg, logger),
		retryCfg,
		cbCfg,
		cfg.Transport.ConnectTimeout,
		observer,
		logger,
	)
}
