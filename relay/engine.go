/*
Package relay forwards messages between two or more broker.Sessions
using a rule table, optionally gated by a readiness flag and a
per-rule filter chain.
*/
package relay

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"go.bryk.io/mqtt-rpc/broker"
	"go.bryk.io/mqtt-rpc/errors"
	xlog "go.bryk.io/mqtt-rpc/log"
)

// loopMarker is prefixed to every forwarded message's payload so that
// a forwarded message is never forwarded again by any rule. Chosen
// over a topic-prefix convention because it survives arbitrary
// destination templates.
const loopMarker = 0x01

// Engine owns a pool of broker.Sessions and a rule table, relaying
// inbound messages between them.
type Engine struct {
	log xlog.Logger

	mu       sync.RWMutex
	sessions map[string]*broker.Session
	rules    []Rule
	refs     map[string]map[string]int // brokerID -> source pattern -> ref count

	ready atomic.Bool

	errMu     sync.Mutex
	errCounts map[string]uint64

	group *errgroup.Group
}

// NewEngine returns an empty Engine; sessions and rules are added via
// AddSession/AddRule.
func NewEngine(log xlog.Logger) *Engine {
	if log == nil {
		log = xlog.Discard()
	}
	return &Engine{
		log:       log,
		sessions:  make(map[string]*broker.Session),
		refs:      make(map[string]map[string]int),
		errCounts: make(map[string]uint64),
		group:     new(errgroup.Group),
	}
}

// AddSession registers a broker.Session under id and installs the
// engine's dispatch as its message handler.
func (e *Engine) AddSession(id string, s *broker.Session) {
	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()
	s.SetMessageHandler(func(topic string, payload []byte) {
		e.onMessage(id, topic, payload)
	})
}

// SetReady toggles the process-wide "secondary-connection-ready" flag
// that gates any rule whose filter chain enables ReadinessFilter.
func (e *Engine) SetReady(ready bool) {
	e.ready.Store(ready)
}

// Ready reports the current readiness flag value.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// AddRule installs rule, subscribing its source broker to
// SourceTopicPattern if no other rule already covers that exact
// pattern on that broker (ref-counted). If rule.Bidirectional, the
// symmetric reverse relay is installed as well.
func (e *Engine) AddRule(rule Rule) error {
	if rule.SourceBrokerID == rule.DestinationBrokerID && !rule.Bidirectional {
		return errors.New("relay: source and destination must differ unless bidirectional")
	}
	if rule.Name == "" {
		return errors.New("relay: rule requires a name")
	}

	e.mu.RLock()
	_, srcOK := e.sessions[rule.SourceBrokerID]
	_, dstOK := e.sessions[rule.DestinationBrokerID]
	e.mu.RUnlock()
	if !srcOK || !dstOK {
		return errors.New("relay: rule references an unknown broker id")
	}

	if err := e.installRule(rule); err != nil {
		return err
	}
	if rule.Bidirectional {
		rev, err := reverseRule(rule)
		if err != nil {
			e.removeInstalled(rule)
			return err
		}
		if err := e.installRule(rev); err != nil {
			e.removeInstalled(rule)
			return err
		}
	}
	return nil
}

func (e *Engine) installRule(rule Rule) error {
	if err := e.subscribe(rule.SourceBrokerID, rule.SourceTopicPattern, rule.QoS); err != nil {
		return err
	}
	e.mu.Lock()
	e.rules = append(e.rules, rule)
	e.mu.Unlock()
	return nil
}

func (e *Engine) removeInstalled(rule Rule) {
	e.unsubscribe(rule.SourceBrokerID, rule.SourceTopicPattern)
	e.mu.Lock()
	for i, r := range e.rules {
		if r.Name == rule.Name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

// RemoveRule uninstalls the named rule (and its reverse, if any).
func (e *Engine) RemoveRule(name string) error {
	e.mu.Lock()
	var kept []Rule
	var removed []Rule
	for _, r := range e.rules {
		if r.Name == name || r.Name == name+"#reverse" {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	e.rules = kept
	e.mu.Unlock()

	if len(removed) == 0 {
		return errors.New("relay: no such rule")
	}
	for _, r := range removed {
		e.unsubscribe(r.SourceBrokerID, r.SourceTopicPattern)
	}
	return nil
}

// reverseRule builds the symmetric rule for a bidirectional install,
// resolving {prefix} in the forward template into a literal so it can
// be used directly as a subscribe pattern on the destination broker.
func reverseRule(r Rule) (Rule, error) {
	subPattern, err := resolveSubscribePattern(r.DestinationTemplate, r.DestinationPrefix)
	if err != nil {
		return Rule{}, err
	}
	return Rule{
		Name:                r.Name + "#reverse",
		SourceBrokerID:      r.DestinationBrokerID,
		DestinationBrokerID: r.SourceBrokerID,
		SourceTopicPattern:  subPattern,
		DestinationTemplate: r.SourceTopicPattern,
		QoS:                 r.QoS,
		Filter:              r.Filter,
	}, nil
}

// resolveSubscribePattern substitutes the literal {prefix} placeholder
// so the result is a plain MQTT subscribe pattern; `+`/`#` segments are
// left untouched since they are already valid wildcard syntax for a
// subscription.
func resolveSubscribePattern(template, prefix string) (string, error) {
	segs := strings.Split(template, "/")
	for i, seg := range segs {
		if seg == "{prefix}" {
			if prefix == "" {
				return "", errors.New("relay: template references {prefix} but rule has none configured")
			}
			segs[i] = prefix
		}
	}
	return strings.Join(segs, "/"), nil
}

func (e *Engine) subscribe(brokerID, pattern string, qos byte) error {
	e.mu.Lock()
	if e.refs[brokerID] == nil {
		e.refs[brokerID] = make(map[string]int)
	}
	count := e.refs[brokerID][pattern]
	e.refs[brokerID][pattern] = count + 1
	session := e.sessions[brokerID]
	e.mu.Unlock()

	if count > 0 {
		return nil
	}
	return session.Subscribe(pattern, qos)
}

func (e *Engine) unsubscribe(brokerID, pattern string) {
	e.mu.Lock()
	count := e.refs[brokerID][pattern] - 1
	session := e.sessions[brokerID]
	if count <= 0 {
		delete(e.refs[brokerID], pattern)
	} else {
		e.refs[brokerID][pattern] = count
	}
	e.mu.Unlock()

	if count <= 0 && session != nil {
		_ = session.Unsubscribe(pattern)
	}
}

// onMessage is installed as every registered session's message
// handler. It fans the inbound message out to every rule whose source
// matches, each in its own tracked goroutine so Stop can bound the
// drain.
func (e *Engine) onMessage(brokerID, topicStr string, payload []byte) {
	if len(payload) > 0 && payload[0] == loopMarker {
		return
	}

	e.mu.RLock()
	var matched []Rule
	for _, r := range e.rules {
		if r.SourceBrokerID == brokerID && topicMatches(r.SourceTopicPattern, topicStr) {
			matched = append(matched, r)
		}
	}
	e.mu.RUnlock()

	for _, rule := range matched {
		rule := rule
		e.group.Go(func() error {
			e.forwardOne(rule, topicStr, payload)
			return nil
		})
	}
}

func (e *Engine) forwardOne(rule Rule, sourceTopic string, payload []byte) {
	if rule.Filter != nil && rule.Filter.Readiness && !e.ready.Load() {
		return
	}
	if rule.Filter != nil && !rule.Filter.allow(payload, time.Now()) {
		return
	}

	dest, err := renderDestination(rule, sourceTopic)
	if err != nil {
		e.bumpError(rule.Name)
		e.log.WithField("rule", rule.Name).Warning("relay: destination template error")
		return
	}

	e.mu.RLock()
	destSession := e.sessions[rule.DestinationBrokerID]
	e.mu.RUnlock()
	if destSession == nil {
		e.bumpError(rule.Name)
		return
	}

	marked := make([]byte, 0, len(payload)+1)
	marked = append(marked, loopMarker)
	marked = append(marked, payload...)

	if err := destSession.Publish(dest, rule.QoS, marked); err != nil {
		e.bumpError(rule.Name)
		e.log.WithField("rule", rule.Name).Warning("relay: forward publish failed")
	}
}

func (e *Engine) bumpError(ruleName string) {
	e.errMu.Lock()
	e.errCounts[ruleName]++
	e.errMu.Unlock()
}

// ErrorCount returns the number of forwarding failures recorded for
// ruleName.
func (e *Engine) ErrorCount(ruleName string) uint64 {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.errCounts[ruleName]
}

// Rules returns a snapshot of the currently installed rule table, for
// admin/observability callers (e.g. the status package).
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Stop unsubscribes every rule from every source, then waits up to
// drainTimeout for in-flight forwards to finish before returning.
func (e *Engine) Stop(drainTimeout time.Duration) error {
	e.mu.Lock()
	rules := e.rules
	e.rules = nil
	e.mu.Unlock()

	for _, r := range rules {
		e.unsubscribe(r.SourceBrokerID, r.SourceTopicPattern)
	}

	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(drainTimeout):
		return errors.New("relay: stop timed out draining in-flight forwards")
	}
}

// topicMatches reports whether topic satisfies the MQTT wildcard
// pattern: `+` matches exactly one segment, `#` (only valid as the
// final segment) matches the remaining tail.
func topicMatches(pattern, topicStr string) bool {
	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(topicStr, "/")

	for i, p := range pSegs {
		if p == "#" {
			return true
		}
		if i >= len(tSegs) {
			return false
		}
		if p == "+" {
			continue
		}
		if p != tSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(tSegs)
}
