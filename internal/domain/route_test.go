package domain

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteMatchesNilPredicateAcceptsEverything(t *testing.T) {
	r := Route{Name: "catch-all"}
	assert.True(t, r.Matches(RawEvent{EventType: "anything"}))
}

func TestRouteMatchesAppliesRegexp(t *testing.T) {
	r := Route{Match: regexp.MustCompile("^swap$")}
	assert.True(t, r.Matches(RawEvent{EventType: "swap"}))
	assert.False(t, r.Matches(RawEvent{EventType: "mint"}))
}
