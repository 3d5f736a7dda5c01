package relay

import (
	"encoding/json"
	"time"
)

// decodedPayload is the subset of a forwarded message's structure the
// filter chain inspects. Payloads that don't parse as this shape are
// treated as unstructured — filters that require structure pass by
// default.
type decodedPayload struct {
	Priority  string `json:"priority"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// PriorityFilter drops a message whose decoded priority is in Blocked,
// or — when Allowed is non-empty — is not in Allowed.
type PriorityFilter struct {
	Blocked []string
	Allowed []string
}

func (f *PriorityFilter) apply(p decodedPayload, structured bool) bool {
	if !structured || p.Priority == "" {
		return true
	}
	for _, b := range f.Blocked {
		if b == p.Priority {
			return false
		}
	}
	if len(f.Allowed) > 0 {
		for _, a := range f.Allowed {
			if a == p.Priority {
				return true
			}
		}
		return false
	}
	return true
}

// TypeFilter drops a message whose decoded type is in Blocked, or —
// when Allowed is non-empty — is not in Allowed.
type TypeFilter struct {
	Blocked []string
	Allowed []string
}

func (f *TypeFilter) apply(p decodedPayload, structured bool) bool {
	if !structured || p.Type == "" {
		return true
	}
	for _, b := range f.Blocked {
		if b == p.Type {
			return false
		}
	}
	if len(f.Allowed) > 0 {
		for _, a := range f.Allowed {
			if a == p.Type {
				return true
			}
		}
		return false
	}
	return true
}

// TimestampFilter drops a message older than MaxAge.
type TimestampFilter struct {
	MaxAge time.Duration
}

func (f *TimestampFilter) apply(p decodedPayload, structured bool, now time.Time) bool {
	if !structured || p.Timestamp == 0 || f.MaxAge <= 0 {
		return true
	}
	age := now.Sub(time.UnixMilli(p.Timestamp))
	return age <= f.MaxAge
}

// FilterChain evaluates PriorityFilter -> TypeFilter -> TimestampFilter
// in order; the first failure drops the message. ReadinessFilter is
// evaluated separately, as a guard ahead of the chain — see
// Engine.forwardOne.
type FilterChain struct {
	Priority  *PriorityFilter
	Type      *TypeFilter
	Timestamp *TimestampFilter

	// Readiness, when true, makes this rule's forwards conditional on
	// the Engine's secondary-ready flag.
	Readiness bool
}

// allow runs the ordered filter chain against payload, decoding it as
// JSON if possible.
func (c *FilterChain) allow(payload []byte, now time.Time) bool {
	if c == nil {
		return true
	}
	var p decodedPayload
	structured := json.Unmarshal(payload, &p) == nil

	if c.Priority != nil && !c.Priority.apply(p, structured) {
		return false
	}
	if c.Type != nil && !c.Type.apply(p, structured) {
		return false
	}
	if c.Timestamp != nil && !c.Timestamp.apply(p, structured, now) {
		return false
	}
	return true
}
