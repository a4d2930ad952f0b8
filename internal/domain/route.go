package domain

import "regexp"

// Priority ranks event router dispatch order; queues are drained strictly
// in this order, critical first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Priorities lists the strict drain order, highest first.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// RawEvent is an opaque chain/platform event entering the router.
type RawEvent struct {
	EventType string
	Contract  string
	Block     uint64
	TxHash    string
	Payload   map[string]any
}

// Route is a registered routing rule matched against incoming RawEvents.
type Route struct {
	Name      string
	Match     *regexp.Regexp // matched against EventType; nil matches all
	Handler   string
	Priority  Priority
	CacheOn   bool
	Transform bool
}

// Matches reports whether the route's predicate accepts the event.
func (r Route) Matches(e RawEvent) bool {
	if r.Match == nil {
		return true
	}
	return r.Match.MatchString(e.EventType)
}
