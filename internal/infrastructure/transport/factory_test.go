package transport

import (
	"testing"

	"confvideo/internal/core/domain"
	"confvideo/internal/infrastructure/reliability"
	"confvideo/internal/infrastructure/transport/rtmp"
	"confvideo/internal/infrastructure/transport/whep"
	"confvideo/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var params = domain.ConnectionParams{
	ServerAddress: "conf.example.org",
	Application:   "video/weekly",
	StreamName:    "320x2405",
}

func TestFactory_SelectsScheme(t *testing.T) {
	cfg := config.DefaultConfig()

	tr, err := NewFactory(cfg, nil).NewTransport(params)
	require.NoError(t, err)
	assert.IsType(t, &rtmp.Transport{}, tr)

	cfg.Transport.Scheme = SchemeWHEP
	cfg.Transport.WHEP.Endpoint = "https://media.example.org/whep"
	tr, err = NewFactory(cfg, nil).NewTransport(params)
	require.NoError(t, err)
	require.IsType(t, &whep.Transport{}, tr)
	assert.Equal(t, "https://media.example.org/whep/video/weekly/320x2405", tr.(*whep.Transport).Endpoint())
}

func TestFactory_UnsupportedScheme(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Transport.Scheme = "srt"

	_, err := NewFactory(cfg, nil).NewTransport(params)
	assert.ErrorIs(t, err, domain.ErrUnsupportedScheme)
}

func TestNewReliableFactory(t *testing.T) {
	f := NewReliableFactory(config.DefaultConfig(), nil, nil)

	tr, err := f.NewTransport(params)
	require.NoError(t, err)
	require.IsType(t, &reliability.TransportWrapper{}, tr)
	assert.IsType(t, &rtmp.Transport{}, tr.(*reliability.TransportWrapper).Unwrap())
	assert.Contains(t, f.BreakerStates(), "conf.example.org")
}
