package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionSetAddRemoveSnapshot(t *testing.T) {
	s := newSubscriptionSet()
	s.add("a/+", 0)
	s.add("b/#", 1)

	snap := s.snapshot()
	assert.Equal(t, map[string]byte{"a/+": 0, "b/#": 1}, snap)

	s.remove("a/+")
	snap = s.snapshot()
	assert.Equal(t, map[string]byte{"b/#": 1}, snap)
}

func TestSubscriptionSetSnapshotIsACopy(t *testing.T) {
	s := newSubscriptionSet()
	s.add("a/+", 0)
	snap := s.snapshot()
	snap["a/+"] = 9
	assert.Equal(t, byte(0), s.snapshot()["a/+"])
}
