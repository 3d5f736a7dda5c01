package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingTableInsertRemoveAndComplete(t *testing.T) {
	pt := newPendingTable()
	fired := make(chan Outcome, 1)
	pt.insert(&pendingRequest{
		txID:     "tx1",
		complete: func(o Outcome) { fired <- o },
		deadline: time.Now().Add(time.Minute),
	})
	assert.Equal(t, 1, pt.len())

	complete := pt.removeAndComplete("tx1")
	require.NotNil(t, complete)
	complete(Outcome{Kind: OutcomeSuccess})
	assert.Equal(t, OutcomeSuccess, (<-fired).Kind)
	assert.Equal(t, 0, pt.len())
}

func TestPendingTableRemoveAndCompleteMissingReturnsNil(t *testing.T) {
	pt := newPendingTable()
	assert.Nil(t, pt.removeAndComplete("unknown"))
}

func TestPendingTableReapExpired(t *testing.T) {
	pt := newPendingTable()
	pt.insert(&pendingRequest{txID: "expired", complete: func(Outcome) {}, deadline: time.Now().Add(-time.Second)})
	pt.insert(&pendingRequest{txID: "alive", complete: func(Outcome) {}, deadline: time.Now().Add(time.Minute)})

	expired := pt.reapExpired(time.Now())
	assert.Len(t, expired, 1)
	assert.Equal(t, 1, pt.len())
}

func TestPendingTableRemove(t *testing.T) {
	pt := newPendingTable()
	pt.insert(&pendingRequest{txID: "tx1", complete: func(Outcome) {}, deadline: time.Now().Add(time.Minute)})
	pt.remove("tx1")
	assert.Equal(t, 0, pt.len())
}
