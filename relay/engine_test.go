package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bryk.io/mqtt-rpc/broker"
)

func newTestEngine(t *testing.T) (*Engine, *broker.Session, *broker.Session) {
	a, err := broker.Open("localhost", 1883, broker.WithClientID("broker-a"))
	require.NoError(t, err)
	b, err := broker.Open("localhost", 1883, broker.WithClientID("broker-b"))
	require.NoError(t, err)

	e := NewEngine(nil)
	e.AddSession("a", a)
	e.AddSession("b", b)
	return e, a, b
}

func TestTopicMatches(t *testing.T) {
	assert.True(t, topicMatches("a/+/c", "a/b/c"))
	assert.False(t, topicMatches("a/+/c", "a/b/x/c"))
	assert.True(t, topicMatches("a/#", "a/b/c/d"))
	assert.True(t, topicMatches("a/#", "a"))
	assert.False(t, topicMatches("a/b", "a/b/c"))
	assert.True(t, topicMatches("a/b/c", "a/b/c"))
}

func TestAddRuleRejectsSameBrokerWithoutBidirectional(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.AddRule(Rule{
		Name:                "bad",
		SourceBrokerID:      "a",
		DestinationBrokerID: "a",
		SourceTopicPattern:  "x/y",
	})
	assert.Error(t, err)
}

func TestAddRuleRejectsUnknownBroker(t *testing.T) {
	e, _, _ := newTestEngine(t)
	err := e.AddRule(Rule{
		Name:                "bad",
		SourceBrokerID:      "a",
		DestinationBrokerID: "missing",
		SourceTopicPattern:  "x/y",
	})
	assert.Error(t, err)
}

func TestSubscriptionRefCounting(t *testing.T) {
	e, _, _ := newTestEngine(t)

	require.NoError(t, e.AddRule(Rule{
		Name: "r1", SourceBrokerID: "a", DestinationBrokerID: "b",
		SourceTopicPattern: "smart/sensors/t1", DestinationTemplate: "filtered/sensors/t1",
	}))
	require.NoError(t, e.AddRule(Rule{
		Name: "r2", SourceBrokerID: "a", DestinationBrokerID: "b",
		SourceTopicPattern: "smart/sensors/t1", DestinationTemplate: "other/sensors/t1",
	}))
	assert.Equal(t, 2, e.refs["a"]["smart/sensors/t1"])

	require.NoError(t, e.RemoveRule("r1"))
	assert.Equal(t, 1, e.refs["a"]["smart/sensors/t1"])

	require.NoError(t, e.RemoveRule("r2"))
	_, stillThere := e.refs["a"]["smart/sensors/t1"]
	assert.False(t, stillThere)
}

func TestLoopPreventionDropsMarkedMessages(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.AddRule(Rule{
		Name: "r1", SourceBrokerID: "a", DestinationBrokerID: "b",
		SourceTopicPattern: "smart/sensors/t1", DestinationTemplate: "filtered/sensors/t1",
	}))

	e.onMessage("a", "smart/sensors/t1", append([]byte{loopMarker}, []byte(`{}`)...))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, uint64(0), e.ErrorCount("r1"))

	e.onMessage("a", "smart/sensors/t1", []byte(`{}`))
	_ = e.Stop(time.Second)
	assert.Equal(t, uint64(1), e.ErrorCount("r1"))
}

func TestReadinessGateDropsWhenNotReady(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.AddRule(Rule{
		Name: "r1", SourceBrokerID: "a", DestinationBrokerID: "b",
		SourceTopicPattern:  "smart/sensors/t1",
		DestinationTemplate: "filtered/sensors/t1",
		Filter:              &FilterChain{Readiness: true},
	}))

	e.onMessage("a", "smart/sensors/t1", []byte(`{}`))
	_ = e.Stop(time.Second)
	assert.Equal(t, uint64(0), e.ErrorCount("r1"))
}

func TestConditionalRelayPriorityFilter(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.AddRule(Rule{
		Name: "r1", SourceBrokerID: "a", DestinationBrokerID: "b",
		SourceTopicPattern:  "smart/sensors/t1",
		DestinationTemplate: "filtered/sensors/t1",
		Filter:              &FilterChain{Priority: &PriorityFilter{Blocked: []string{"low"}}},
	}))

	e.onMessage("a", "smart/sensors/t1", []byte(`{"priority":"low","type":"info","timestamp":0}`))
	e.onMessage("a", "smart/sensors/t1", []byte(`{"priority":"high","type":"info","timestamp":0}`))
	_ = e.Stop(time.Second)
	// "high" reaches the publish attempt (and fails, not-connected);
	// "low" never does.
	assert.Equal(t, uint64(1), e.ErrorCount("r1"))
}

func TestBidirectionalRuleInstallsReverse(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.AddRule(Rule{
		Name: "r1", SourceBrokerID: "a", DestinationBrokerID: "b",
		SourceTopicPattern:  "smart/+/t1",
		DestinationTemplate: "{prefix}/+/t1",
		DestinationPrefix:   "filtered",
		Bidirectional:       true,
	}))
	assert.Len(t, e.rules, 2)
	assert.Equal(t, 1, e.refs["b"]["filtered/+/t1"])
}
