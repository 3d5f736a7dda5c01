package config

import (
	"time"

	"go.bryk.io/mqtt-rpc/broker"
	"go.bryk.io/mqtt-rpc/relay"
)

// Options converts a BrokerConfig into the broker.Option slice Open
// expects, translating the wire format's plain-int seconds into
// time.Duration and the flat TLS fields into a broker.TLS.
func (c BrokerConfig) Options() []broker.Option {
	opts := []broker.Option{
		broker.WithClientID(c.ClientID),
		broker.WithKeepalive(time.Duration(c.Keepalive) * time.Second),
	}
	if c.Username != "" || c.Password != "" {
		opts = append(opts, broker.WithCredentials(c.Username, c.Password))
	}
	if c.UseTLS {
		opts = append(opts, broker.WithTLS(c.CAFile, c.CertFile, c.KeyFile, c.TLSVersion, c.TLSInsecure))
	}
	if c.AutoReconnect {
		opts = append(opts, broker.WithAutoReconnect(
			time.Duration(c.ReconnectDelayMin)*time.Second,
			time.Duration(c.ReconnectDelayMax)*time.Second,
		))
	}
	if c.Heartbeat != nil {
		opts = append(opts, broker.WithHeartbeat(
			c.Heartbeat.Topic,
			time.Duration(c.Heartbeat.IntervalSeconds)*time.Second,
			[]byte(c.Heartbeat.Payload),
		))
	}
	return opts
}

// Open builds and returns a broker.Session for this BrokerConfig.
func (c BrokerConfig) Open() (*broker.Session, error) {
	return broker.Open(c.BrokerHost, c.BrokerPort, c.Options()...)
}

// FilterChain converts a FilterSpec into a relay.FilterChain. A nil
// receiver (no filter configured) yields a nil chain.
func (f *FilterSpec) FilterChain() *relay.FilterChain {
	if f == nil {
		return nil
	}
	chain := &relay.FilterChain{Readiness: f.ReadinessGated}
	if len(f.PriorityBlocked) > 0 || len(f.PriorityAllowed) > 0 {
		chain.Priority = &relay.PriorityFilter{Blocked: f.PriorityBlocked, Allowed: f.PriorityAllowed}
	}
	if len(f.TypeBlocked) > 0 || len(f.TypeAllowed) > 0 {
		chain.Type = &relay.TypeFilter{Blocked: f.TypeBlocked, Allowed: f.TypeAllowed}
	}
	if f.MaxAgeSeconds > 0 {
		chain.Timestamp = &relay.TimestampFilter{MaxAge: time.Duration(f.MaxAgeSeconds) * time.Second}
	}
	return chain
}

// Rule converts a RelayRule into a relay.Rule.
func (r RelayRule) Rule() relay.Rule {
	return relay.Rule{
		Name:                r.Name,
		SourceBrokerID:      r.SourceBrokerID,
		DestinationBrokerID: r.DestinationBrokerID,
		SourceTopicPattern:  r.SourceTopicPattern,
		DestinationTemplate: r.DestinationTemplate,
		DestinationPrefix:   r.DestinationPrefix,
		QoS:                 r.QoS,
		Bidirectional:       r.Bidirectional,
		Filter:              r.Filter.FilterChain(),
	}
}
