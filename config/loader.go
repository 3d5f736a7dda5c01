package config

import (
	"go.bryk.io/mqtt-rpc/cli"
	"go.bryk.io/mqtt-rpc/errors"
)

// ErrInvalid is wrapped into every validation failure Load reports.
var ErrInvalid = errors.New("config: invalid configuration")

// Load locates and parses the configuration file for app (searching
// the standard cli.ConfigHandler locations plus any extra paths),
// unmarshals it into a File and validates required fields.
func Load(app string, extraPaths ...string) (*File, error) {
	h := cli.ConfigHandler(app, &cli.ConfigOptions{
		FileName:  "config",
		FileType:  "json",
		Locations: extraPaths,
	})
	if err := h.ReadFile(false); err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}

	var f File
	if err := h.Unmarshal(&f, ""); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate enforces the subset of the BrokerConfig/TopicConfig
// invariants that a config file can get wrong: non-empty host, a valid
// port, TLS material present unless insecure, and a well-formed topic
// prefix tuple. When relay is enabled, every relay rule also needs a
// name and distinct source/destination broker ids unless bidirectional;
// the remaining relay and supervisor settings are validated by their
// own packages at use time.
func (f *File) Validate() error {
	if f.Broker.BrokerHost == "" {
		return errors.Wrap(ErrInvalid, "broker_host must not be empty")
	}
	if f.Broker.BrokerPort < 1 || f.Broker.BrokerPort > 65535 {
		return errors.Wrap(ErrInvalid, "broker_port must be in 1..65535")
	}
	if f.Broker.UseTLS && f.Broker.CAFile == "" && !f.Broker.TLSInsecure {
		return errors.Wrap(ErrInvalid, "use_tls requires ca_file or tls_insecure")
	}
	if err := f.Topic.Validate(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if f.Relay.Enabled {
		for _, r := range f.Relay.Rules {
			if r.Name == "" {
				return errors.Wrap(ErrInvalid, "relay rule requires a name")
			}
			if r.SourceBrokerID == r.DestinationBrokerID && !r.Bidirectional {
				return errors.Wrap(ErrInvalid, "relay rule source/destination broker ids must differ unless bidirectional")
			}
		}
	}
	return nil
}
