package sources

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeStreamSourceKind(t *testing.T) {
	s := NewExchangeStreamSource("binance", "wss://example.invalid", 1.0, slog.Default())
	assert.Equal(t, "exchange_stream:binance", s.Kind())
}

func TestExchangeStreamSourceFetchUnsupported(t *testing.T) {
	s := NewExchangeStreamSource("binance", "wss://example.invalid", 1.0, slog.Default())
	_, err := s.Fetch(t.Context(), "BTCUSD")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unary fetch unsupported")
}

func TestExchangeStreamSourceCloseIsIdempotent(t *testing.T) {
	s := NewExchangeStreamSource("binance", "wss://example.invalid", 1.0, slog.Default())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
