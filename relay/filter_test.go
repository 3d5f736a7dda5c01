package relay

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityFilterBlocksListed(t *testing.T) {
	c := &FilterChain{Priority: &PriorityFilter{Blocked: []string{"low"}}}
	now := time.Now()

	high := []byte(`{"priority":"high","type":"info","timestamp":0}`)
	low := []byte(`{"priority":"low","type":"info","timestamp":0}`)

	assert.True(t, c.allow(high, now))
	assert.False(t, c.allow(low, now))
}

func TestTimestampFilterDropsStaleMessages(t *testing.T) {
	c := &FilterChain{Timestamp: &TimestampFilter{MaxAge: 300 * time.Second}}
	now := time.Now()

	fresh := []byte(`{"timestamp":` + msNow(now.Add(-100*time.Second)) + `}`)
	stale := []byte(`{"timestamp":` + msNow(now.Add(-400*time.Second)) + `}`)

	assert.True(t, c.allow(fresh, now))
	assert.False(t, c.allow(stale, now))
}

func TestUnstructuredPayloadPassesByDefault(t *testing.T) {
	c := &FilterChain{Priority: &PriorityFilter{Blocked: []string{"low"}}}
	assert.True(t, c.allow([]byte("not json"), time.Now()))
}

func TestNilFilterChainAllowsEverything(t *testing.T) {
	var c *FilterChain
	assert.True(t, c.allow([]byte(`{"priority":"low"}`), time.Now()))
}

func msNow(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
