package handler

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseListOptsDefaults(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/audit", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}

func TestParseListOptsHonorsQueryParams(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/audit?limit=10&offset=20", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 10, opts.Limit)
	assert.Equal(t, 20, opts.Offset)
}

func TestParseListOptsCapsLimitAt500(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/audit?limit=10000", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 500, opts.Limit)
}

func TestParseListOptsIgnoresInvalidValues(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/audit?limit=-5&offset=-1", nil)
	opts := parseListOpts(req)
	assert.Equal(t, 50, opts.Limit)
	assert.Equal(t, 0, opts.Offset)
}
