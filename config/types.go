/*
Package config loads the JSON configuration file described in
the project's external interfaces section and converts it into the
typed structs the broker, topic, relay and supervisor packages expect.
The wire shape here intentionally mirrors the file format (plain ints
for second counts, flat TLS fields) rather than the domain types
(time.Duration, nested structs); Broker/Relay/Topic convert one into
the other.
*/
package config

import "go.bryk.io/mqtt-rpc/topic"

// HeartbeatConfig is the wire shape of broker.Heartbeat.
type HeartbeatConfig struct {
	Topic           string `mapstructure:"topic" json:"topic" yaml:"topic"`
	IntervalSeconds int    `mapstructure:"interval_seconds" json:"interval_seconds" yaml:"interval_seconds"`
	Payload         string `mapstructure:"payload" json:"payload" yaml:"payload"`
}

// BrokerConfig is the wire shape of a single broker connection, per the
// configuration key table.
type BrokerConfig struct {
	// ID identifies this broker within a relay pool's Brokers list; it
	// is unused (and may be left empty) for the single top-level Broker.
	ID string `mapstructure:"id" json:"id" yaml:"id"`

	ClientID string `mapstructure:"client_id" json:"client_id" yaml:"client_id"`

	BrokerHost string `mapstructure:"broker_host" json:"broker_host" yaml:"broker_host"`
	BrokerPort int    `mapstructure:"broker_port" json:"broker_port" yaml:"broker_port"`

	Username string `mapstructure:"username" json:"username" yaml:"username"`
	Password string `mapstructure:"password" json:"password" yaml:"password"`

	CleanSession bool `mapstructure:"clean_session" json:"clean_session" yaml:"clean_session"`
	Keepalive    int  `mapstructure:"keepalive" json:"keepalive" yaml:"keepalive"`
	QoS          byte `mapstructure:"qos" json:"qos" yaml:"qos"`

	UseTLS      bool   `mapstructure:"use_tls" json:"use_tls" yaml:"use_tls"`
	CAFile      string `mapstructure:"ca_file" json:"ca_file" yaml:"ca_file"`
	CertFile    string `mapstructure:"cert_file" json:"cert_file" yaml:"cert_file"`
	KeyFile     string `mapstructure:"key_file" json:"key_file" yaml:"key_file"`
	TLSVersion  string `mapstructure:"tls_version" json:"tls_version" yaml:"tls_version"`
	TLSInsecure bool   `mapstructure:"tls_insecure" json:"tls_insecure" yaml:"tls_insecure"`

	ConnectTimeout int `mapstructure:"connect_timeout" json:"connect_timeout" yaml:"connect_timeout"`
	MessageTimeout int `mapstructure:"message_timeout" json:"message_timeout" yaml:"message_timeout"`

	AutoReconnect     bool `mapstructure:"auto_reconnect" json:"auto_reconnect" yaml:"auto_reconnect"`
	ReconnectDelayMin int  `mapstructure:"reconnect_delay_min" json:"reconnect_delay_min" yaml:"reconnect_delay_min"`
	ReconnectDelayMax int  `mapstructure:"reconnect_delay_max" json:"reconnect_delay_max" yaml:"reconnect_delay_max"`

	Heartbeat *HeartbeatConfig `mapstructure:"heartbeat" json:"heartbeat" yaml:"heartbeat"`

	JSONAddedSubs []string `mapstructure:"json_added_subs" json:"json_added_subs" yaml:"json_added_subs"`
}

// FilterSpec is the wire shape of a relay.FilterChain.
type FilterSpec struct {
	PriorityBlocked []string `mapstructure:"priority_blocked" json:"priority_blocked" yaml:"priority_blocked"`
	PriorityAllowed []string `mapstructure:"priority_allowed" json:"priority_allowed" yaml:"priority_allowed"`
	TypeBlocked     []string `mapstructure:"type_blocked" json:"type_blocked" yaml:"type_blocked"`
	TypeAllowed     []string `mapstructure:"type_allowed" json:"type_allowed" yaml:"type_allowed"`
	MaxAgeSeconds   int      `mapstructure:"max_age_seconds" json:"max_age_seconds" yaml:"max_age_seconds"`
	ReadinessGated  bool     `mapstructure:"readiness_gated" json:"readiness_gated" yaml:"readiness_gated"`
}

// RelayRule is the wire shape of a relay.Rule.
type RelayRule struct {
	Name                string      `mapstructure:"name" json:"name" yaml:"name"`
	SourceBrokerID      string      `mapstructure:"source_broker_id" json:"source_broker_id" yaml:"source_broker_id"`
	DestinationBrokerID string      `mapstructure:"destination_broker_id" json:"destination_broker_id" yaml:"destination_broker_id"`
	SourceTopicPattern  string      `mapstructure:"source_topic_pattern" json:"source_topic_pattern" yaml:"source_topic_pattern"`
	DestinationTemplate string      `mapstructure:"destination_template" json:"destination_template" yaml:"destination_template"`
	DestinationPrefix   string      `mapstructure:"destination_prefix" json:"destination_prefix" yaml:"destination_prefix"`
	QoS                 byte        `mapstructure:"qos" json:"qos" yaml:"qos"`
	Bidirectional       bool        `mapstructure:"bidirectional" json:"bidirectional" yaml:"bidirectional"`
	Filter              *FilterSpec `mapstructure:"filter" json:"filter" yaml:"filter"`
}

// RelayConfig is the wire shape of the relay master switches plus the
// multi-broker pool and rule table.
type RelayConfig struct {
	Enabled          bool           `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	ConditionalRelay bool           `mapstructure:"conditional_relay" json:"conditional_relay" yaml:"conditional_relay"`
	RelayPrefix      string         `mapstructure:"relay_prefix" json:"relay_prefix" yaml:"relay_prefix"`
	Brokers          []BrokerConfig `mapstructure:"brokers" json:"brokers" yaml:"brokers"`
	Rules            []RelayRule    `mapstructure:"rules" json:"rules" yaml:"rules"`
}

// SupervisorConfig configures the optional sentry panic-reporting
// integration for in-process workers; the record table itself is never
// persisted.
type SupervisorConfig struct {
	SentryDSN string `mapstructure:"sentry_dsn" json:"sentry_dsn" yaml:"sentry_dsn"`
}

// TopicConfig is an alias for topic.Config so callers can unmarshal
// directly into the type the topic package already consumes.
type TopicConfig = topic.Config

// File is the full, top-level shape of the configuration file.
type File struct {
	Broker     BrokerConfig     `mapstructure:",squash"`
	Topic      TopicConfig      `mapstructure:"topic" json:"topic" yaml:"topic"`
	Relay      RelayConfig      `mapstructure:"relay" json:"relay" yaml:"relay"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" json:"supervisor" yaml:"supervisor"`
}
