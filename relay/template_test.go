package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderDestinationLiteral(t *testing.T) {
	rule := Rule{SourceTopicPattern: "smart/sensors/t1", DestinationTemplate: "filtered/sensors/t1"}
	got, err := renderDestination(rule, "smart/sensors/t1")
	require.NoError(t, err)
	assert.Equal(t, "filtered/sensors/t1", got)
}

func TestRenderDestinationPrefix(t *testing.T) {
	rule := Rule{
		SourceTopicPattern:  "smart/sensors/t1",
		DestinationTemplate: "{prefix}/sensors/t1",
		DestinationPrefix:   "filtered",
	}
	got, err := renderDestination(rule, "smart/sensors/t1")
	require.NoError(t, err)
	assert.Equal(t, "filtered/sensors/t1", got)
}

func TestRenderDestinationPositionalWildcard(t *testing.T) {
	rule := Rule{
		SourceTopicPattern:  "smart/+/data",
		DestinationTemplate: "relayed/+/data",
	}
	got, err := renderDestination(rule, "smart/kitchen/data")
	require.NoError(t, err)
	assert.Equal(t, "relayed/kitchen/data", got)
}

func TestRenderDestinationTailWildcard(t *testing.T) {
	rule := Rule{
		SourceTopicPattern:  "smart/#",
		DestinationTemplate: "relayed/#",
	}
	got, err := renderDestination(rule, "smart/kitchen/sensor/temp")
	require.NoError(t, err)
	assert.Equal(t, "relayed/kitchen/sensor/temp", got)
}

func TestRenderDestinationRejectsUnknownPlaceholder(t *testing.T) {
	rule := Rule{SourceTopicPattern: "a/b", DestinationTemplate: "{unknown}/b"}
	_, err := renderDestination(rule, "a/b")
	assert.Error(t, err)
}

func TestRenderDestinationRejectsMissingPrefix(t *testing.T) {
	rule := Rule{SourceTopicPattern: "a/b", DestinationTemplate: "{prefix}/b"}
	_, err := renderDestination(rule, "a/b")
	assert.Error(t, err)
}
