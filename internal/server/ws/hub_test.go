package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIsSubscribedDirectMatch(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:opportunity": true}}
	assert.True(t, c.isSubscribed("ch:opportunity"))
	assert.False(t, c.isSubscribed("ch:breaker"))
}

func TestClientIsSubscribedWildcardMatch(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:book:*": true}}
	assert.True(t, c.isSubscribed("ch:book:12345"))
	assert.False(t, c.isSubscribed("ch:other:1"))
}

func TestClientHandleSubscriptionAddsAndRemoves(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:incident": true}}

	c.handleSubscription(subscribeMsg{Subscribe: []string{"ch:breaker"}})
	assert.True(t, c.isSubscribed("ch:breaker"))

	c.handleSubscription(subscribeMsg{Unsubscribe: []string{"ch:incident"}})
	assert.False(t, c.isSubscribed("ch:incident"))
}

func TestClientHandleSubscriptionLegacyActionField(t *testing.T) {
	c := &client{subs: map[string]bool{}}

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"ch:emergency"}})
	assert.True(t, c.isSubscribed("ch:emergency"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"ch:emergency"}})
	assert.False(t, c.isSubscribed("ch:emergency"))
}
