package relay

import (
	"time"

	"gopkg.in/yaml.v3"

	"go.bryk.io/mqtt-rpc/errors"
)

// ruleDoc is the YAML wire shape for a rule table authored outside the
// main JSON configuration file, so operators can keep it in its own
// document. MaxAgeSeconds mirrors config.FilterSpec's plain-int
// convention rather than a marshalled time.Duration.
type ruleDoc struct {
	Name                string     `yaml:"name"`
	SourceBrokerID      string     `yaml:"source_broker_id"`
	DestinationBrokerID string     `yaml:"destination_broker_id"`
	SourceTopicPattern  string     `yaml:"source_topic_pattern"`
	DestinationTemplate string     `yaml:"destination_template"`
	DestinationPrefix   string     `yaml:"destination_prefix,omitempty"`
	QoS                 byte       `yaml:"qos"`
	Bidirectional       bool       `yaml:"bidirectional,omitempty"`
	Filter              *filterDoc `yaml:"filter,omitempty"`
}

type filterDoc struct {
	PriorityBlocked []string `yaml:"priority_blocked,omitempty"`
	PriorityAllowed []string `yaml:"priority_allowed,omitempty"`
	TypeBlocked     []string `yaml:"type_blocked,omitempty"`
	TypeAllowed     []string `yaml:"type_allowed,omitempty"`
	MaxAgeSeconds   int      `yaml:"max_age_seconds,omitempty"`
	ReadinessGated  bool     `yaml:"readiness_gated,omitempty"`
}

func (d *filterDoc) chain() *FilterChain {
	if d == nil {
		return nil
	}
	fc := &FilterChain{Readiness: d.ReadinessGated}
	if len(d.PriorityBlocked) > 0 || len(d.PriorityAllowed) > 0 {
		fc.Priority = &PriorityFilter{Blocked: d.PriorityBlocked, Allowed: d.PriorityAllowed}
	}
	if len(d.TypeBlocked) > 0 || len(d.TypeAllowed) > 0 {
		fc.Type = &TypeFilter{Blocked: d.TypeBlocked, Allowed: d.TypeAllowed}
	}
	if d.MaxAgeSeconds > 0 {
		fc.Timestamp = &TimestampFilter{MaxAge: time.Duration(d.MaxAgeSeconds) * time.Second}
	}
	return fc
}

// LoadRulesYAML parses a standalone YAML rule-table document, an
// alternative to embedding rules in the main JSON configuration file,
// and returns the Rule slice ready for Engine.AddRule.
func LoadRulesYAML(data []byte) ([]Rule, error) {
	var docs []ruleDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, errors.Wrap(err, "relay: parse yaml rule table")
	}
	rules := make([]Rule, 0, len(docs))
	for _, d := range docs {
		if d.Name == "" {
			return nil, errors.New("relay: yaml rule requires a name")
		}
		rules = append(rules, Rule{
			Name:                d.Name,
			SourceBrokerID:      d.SourceBrokerID,
			DestinationBrokerID: d.DestinationBrokerID,
			SourceTopicPattern:  d.SourceTopicPattern,
			DestinationTemplate: d.DestinationTemplate,
			DestinationPrefix:   d.DestinationPrefix,
			QoS:                 d.QoS,
			Bidirectional:       d.Bidirectional,
			Filter:              d.Filter.chain(),
		})
	}
	return rules, nil
}
