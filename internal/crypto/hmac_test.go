package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHeadersAtIsDeterministicForFixedTimestamp(t *testing.T) {
	auth := &HMACAuth{Key: "key123", Secret: "c2VjcmV0"} // base64("secret")

	h1 := auth.HeadersAt("GET", "/quote?symbol=ETH", "", 1700000000)
	h2 := auth.HeadersAt("GET", "/quote?symbol=ETH", "", 1700000000)

	assert.Equal(t, h1, h2)
	assert.Equal(t, "key123", h1["X-API-KEY"])
	assert.Equal(t, "1700000000", h1["X-API-TIMESTAMP"])
	assert.NotEmpty(t, h1["X-API-SIGNATURE"])
}

func TestHeadersAtSignatureChangesWithPath(t *testing.T) {
	auth := &HMACAuth{Key: "key123", Secret: "c2VjcmV0"}

	h1 := auth.HeadersAt("GET", "/quote?symbol=ETH", "", 1700000000)
	h2 := auth.HeadersAt("GET", "/quote?symbol=BTC", "", 1700000000)

	assert.NotEqual(t, h1["X-API-SIGNATURE"], h2["X-API-SIGNATURE"])
}

func TestHeadersAtFallsBackToRawSecretOnInvalidBase64(t *testing.T) {
	auth := &HMACAuth{Key: "key123", Secret: "not-valid-base64!!"}
	assert.NotPanics(t, func() {
		auth.HeadersAt("GET", "/", "", 1700000000)
	})
}

func TestHMACAuthStringRedactsSecretAndKey(t *testing.T) {
	auth := &HMACAuth{Key: "averyverylongkey", Secret: "averyverylongsecret"}
	s := auth.String()
	assert.NotContains(t, s, "averyverylongkey")
	assert.NotContains(t, s, "averyverylongsecret")
}
