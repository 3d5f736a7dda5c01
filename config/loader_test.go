package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bryk.io/mqtt-rpc/broker"
)

const sampleConfig = `{
	"client_id": "gateway-01",
	"broker_host": "mqtt.example.internal",
	"broker_port": 8883,
	"use_tls": true,
	"ca_file": "/etc/mqtt-rpc/ca.pem",
	"keepalive": 30,
	"auto_reconnect": true,
	"reconnect_delay_min": 1,
	"reconnect_delay_max": 30,
	"topic": {
		"base_prefix": "smart",
		"service_prefix": "sensors",
		"request_suffix": "req",
		"response_suffix": "res",
		"notification_suffix": "notify"
	},
	"relay": {
		"enabled": true,
		"rules": [
			{
				"name": "to-cloud",
				"source_broker_id": "local",
				"destination_broker_id": "cloud",
				"source_topic_pattern": "smart/sensors/+",
				"destination_template": "filtered/sensors/+",
				"destination_prefix": "filtered"
			}
		]
	}
}`

func writeConfig(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(sampleConfig), 0o600))
}

func TestLoadParsesAndValidates(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir)

	f, err := Load("mqtt-rpc-test", dir)
	require.NoError(t, err)

	assert.Equal(t, "gateway-01", f.Broker.ClientID)
	assert.Equal(t, "mqtt.example.internal", f.Broker.BrokerHost)
	assert.Equal(t, 8883, f.Broker.BrokerPort)
	assert.True(t, f.Broker.UseTLS)
	assert.Equal(t, "smart", f.Topic.BasePrefix)
	assert.True(t, f.Relay.Enabled)
	require.Len(t, f.Relay.Rules, 1)
	assert.Equal(t, "to-cloud", f.Relay.Rules[0].Name)
}

func TestValidateRejectsMissingHost(t *testing.T) {
	f := &File{Broker: BrokerConfig{BrokerPort: 1883}}
	err := f.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	f := &File{Broker: BrokerConfig{BrokerHost: "h", BrokerPort: 70000}}
	err := f.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsRelayRuleSameBrokerWithoutBidirectional(t *testing.T) {
	f := &File{
		Broker: BrokerConfig{BrokerHost: "h", BrokerPort: 1883},
		Topic: TopicConfig{
			BasePrefix: "a", ServicePrefix: "b", RequestSuffix: "c",
			ResponseSuffix: "d", NotificationSuffix: "e",
		},
		Relay: RelayConfig{
			Enabled: true,
			Rules: []RelayRule{{
				Name: "r", SourceBrokerID: "x", DestinationBrokerID: "x",
			}},
		},
	}
	assert.Error(t, f.Validate())
}

func TestBrokerConfigOptionsAppliesTLSAndReconnect(t *testing.T) {
	bc := BrokerConfig{
		ClientID:          "c1",
		BrokerHost:        "h",
		BrokerPort:        1883,
		Keepalive:         30,
		UseTLS:            true,
		TLSInsecure:       true,
		AutoReconnect:     true,
		ReconnectDelayMin: 1,
		ReconnectDelayMax: 30,
	}
	s, err := bc.Open()
	require.NoError(t, err)
	assert.Equal(t, broker.Disconnected, s.State())
}
