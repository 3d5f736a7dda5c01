package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bryk.io/mqtt-rpc/broker"
	"go.bryk.io/mqtt-rpc/envelope"
	"go.bryk.io/mqtt-rpc/topic"
)

func testBuilder(t *testing.T) *topic.Builder {
	b, err := topic.NewBuilder(topic.Config{
		BasePrefix:         "devices",
		ServicePrefix:      "svc",
		RequestSuffix:      "request",
		ResponseSuffix:     "response",
		NotificationSuffix: "notify",
	})
	require.NoError(t, err)
	return b
}

func testClient(t *testing.T) (*Client, *broker.Session) {
	s, err := broker.Open("localhost", 1883)
	require.NoError(t, err)
	return NewClient(s, testBuilder(t), 0), s
}

func TestCallAsyncZeroTimeoutFailsImmediately(t *testing.T) {
	c, _ := testClient(t)
	var got Outcome
	_, err := c.CallAsync(envelope.Request{Method: "ping", Service: "svc"}, func(o Outcome) { got = o })
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, got.Kind)
}

func TestCallAsyncRequiresMethodAndService(t *testing.T) {
	c, _ := testClient(t)
	_, err := c.CallAsync(envelope.Request{TimeoutMS: 1000}, func(Outcome) {})
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindConfigError, rerr.Kind)
}

func TestCallAsyncNotConnectedRemovesPendingEntry(t *testing.T) {
	c, _ := testClient(t)
	_, err := c.CallAsync(envelope.Request{Method: "ping", Service: "svc", TimeoutMS: 1000}, func(Outcome) {})
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindNotConnected, rerr.Kind)
	assert.Equal(t, 0, c.pending.len())
}

func TestDispatchCompletesMatchingResponse(t *testing.T) {
	c, _ := testClient(t)
	txID := envelope.NewTransactionID()

	fired := make(chan Outcome, 1)
	c.pending.insert(&pendingRequest{
		txID:     txID,
		complete: func(o Outcome) { fired <- o },
		deadline: time.Now().Add(time.Minute),
	})

	respTopic, err := c.topics.Response("ping", "svc", txID)
	require.NoError(t, err)
	payload, err := envelope.EncodeResponse(envelope.Response{
		TransactionID: txID,
		Success:       true,
		Result:        []byte(`{"echo":"ping"}`),
	})
	require.NoError(t, err)

	c.dispatch(respTopic, payload)

	out := <-fired
	assert.Equal(t, OutcomeSuccess, out.Kind)
	assert.JSONEq(t, `{"echo":"ping"}`, string(out.Result))
	assert.Equal(t, 0, c.pending.len())
}

func TestDispatchForwardsUnrecognizedMessages(t *testing.T) {
	c, _ := testClient(t)
	var gotTopic string
	var gotPayload []byte
	c.SetMessageHandler(func(topic string, payload []byte) {
		gotTopic = topic
		gotPayload = payload
	})

	c.dispatch("unrelated/topic", []byte("hello"))
	assert.Equal(t, "unrelated/topic", gotTopic)
	assert.Equal(t, []byte("hello"), gotPayload)
}

func TestDispatchForwardsResponseWithNoPendingEntry(t *testing.T) {
	c, _ := testClient(t)
	var forwarded bool
	c.SetMessageHandler(func(string, []byte) { forwarded = true })

	respTopic, err := c.topics.Response("ping", "svc", envelope.NewTransactionID())
	require.NoError(t, err)
	c.dispatch(respTopic, []byte(`{"transaction_id":"x","success":true}`))
	assert.True(t, forwarded)
}

func TestReaperFiresTimeoutAfterDeadline(t *testing.T) {
	c, _ := testClient(t)
	c.reapInterval = 10 * time.Millisecond
	require.NoError(t, c.Start(false))
	defer c.Stop()

	fired := make(chan Outcome, 1)
	c.pending.insert(&pendingRequest{
		txID:     "tx1",
		complete: func(o Outcome) { fired <- o },
		deadline: time.Now().Add(5 * time.Millisecond),
	})

	select {
	case out := <-fired:
		assert.Equal(t, OutcomeTimeout, out.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reaper")
	}
}

func TestCallSyncContextCancellation(t *testing.T) {
	c, _ := testClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.CallSync(ctx, envelope.Request{Method: "ping", Service: "svc", TimeoutMS: 0}, 0)
	require.Error(t, err)
}

func TestConnectionStatusReceivesTransitions(t *testing.T) {
	c, _ := testClient(t)
	ch := c.ConnectionStatus()
	c.onStateChange(broker.Connected)
	assert.Equal(t, broker.Connected, <-ch)
}
