package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRulesYAML(t *testing.T) {
	doc := []byte(`
- name: sensors
  source_broker_id: a
  destination_broker_id: b
  source_topic_pattern: smart/sensors/t1
  destination_template: filtered/sensors/t1
  qos: 1
  filter:
    priority_blocked: [low]
    max_age_seconds: 300
    readiness_gated: true
`)
	rules, err := LoadRulesYAML(doc)
	require.NoError(t, err)
	require.Len(t, rules, 1)

	r := rules[0]
	assert.Equal(t, "sensors", r.Name)
	assert.Equal(t, "a", r.SourceBrokerID)
	assert.Equal(t, byte(1), r.QoS)
	require.NotNil(t, r.Filter)
	assert.True(t, r.Filter.Readiness)
	require.NotNil(t, r.Filter.Priority)
	assert.Equal(t, []string{"low"}, r.Filter.Priority.Blocked)
	require.NotNil(t, r.Filter.Timestamp)
	assert.Equal(t, 300*time.Second, r.Filter.Timestamp.MaxAge)
}

func TestLoadRulesYAMLRejectsMissingName(t *testing.T) {
	_, err := LoadRulesYAML([]byte(`- source_broker_id: a`))
	assert.Error(t, err)
}

func TestLoadRulesYAMLRejectsMalformed(t *testing.T) {
	_, err := LoadRulesYAML([]byte("not: [valid"))
	assert.Error(t, err)
}
