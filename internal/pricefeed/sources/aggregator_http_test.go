package sources

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arbitonlabs/arbiton/internal/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorHTTPSourceFetchParsesQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "ETHUSD", r.URL.Query().Get("symbol"))
		json.NewEncoder(w).Encode(aggregatorQuoteResponse{
			Price: 3000.5, Volume: 10, Liquidity: 500000, Venue: "uniswap", Confidence: 0.95,
		})
	}))
	defer srv.Close()

	src := NewAggregatorHTTPSource(srv.URL, nil, 1.0)
	point, err := src.Fetch(t.Context(), "ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, 3000.5, point.Price)
	assert.Equal(t, "uniswap", point.Venue)
	assert.Equal(t, 0.95, point.Confidence)
}

func TestAggregatorHTTPSourceFetchDefaultsConfidenceWhenMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(aggregatorQuoteResponse{Price: 100})
	}))
	defer srv.Close()

	src := NewAggregatorHTTPSource(srv.URL, nil, 1.0)
	point, err := src.Fetch(t.Context(), "BTCUSD")
	require.NoError(t, err)
	assert.Equal(t, 0.8, point.Confidence)
}

func TestAggregatorHTTPSourceFetchSendsAuthHeaders(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		json.NewEncoder(w).Encode(aggregatorQuoteResponse{Price: 1})
	}))
	defer srv.Close()

	auth := &crypto.HMACAuth{Key: "k1", Secret: "c2VjcmV0"}
	src := NewAggregatorHTTPSource(srv.URL, auth, 1.0)
	_, err := src.Fetch(t.Context(), "ETHUSD")
	require.NoError(t, err)
	assert.Equal(t, "k1", gotKey)
}

func TestAggregatorHTTPSourceFetchErrorsOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewAggregatorHTTPSource(srv.URL, nil, 1.0)
	_, err := src.Fetch(t.Context(), "ETHUSD")
	assert.Error(t, err)
}

func TestAggregatorHTTPSourceKind(t *testing.T) {
	src := NewAggregatorHTTPSource("http://example.invalid", nil, 1.0)
	assert.Equal(t, "aggregator_http", src.Kind())
	assert.NoError(t, src.Close())
}
