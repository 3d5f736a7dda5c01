package broker

import (
	"time"

	"go.bryk.io/mqtt-rpc/errors"
)

// Heartbeat configures an optional periodic keepalive publish.
type Heartbeat struct {
	Topic    string
	Interval time.Duration
	Payload  []byte
}

// TLS configures transport security for a broker connection. CAFile is
// required unless Insecure is set.
type TLS struct {
	CAFile   string
	CertFile string
	KeyFile  string
	Version  string
	Insecure bool
}

// Config is the immutable description of a broker connection. It
// corresponds to the BrokerConfig data model entity; instances are
// built through Option functions and frozen once a Session opens.
type Config struct {
	Host     string
	Port     int
	ClientID string

	Username string
	Password string

	TLS *TLS

	Keepalive    time.Duration
	CleanSession bool

	AutoReconnect     bool
	ReconnectDelayMin time.Duration
	ReconnectDelayMax time.Duration

	ConnectTimeout time.Duration
	MessageTimeout time.Duration

	Heartbeat *Heartbeat
}

// Validate enforces the invariants from the data model table: host
// non-empty, port in range, TLS material present unless insecure.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("broker: config requires a non-empty host")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.New("broker: port must be in 1..65535")
	}
	if c.TLS != nil && c.TLS.CAFile == "" && !c.TLS.Insecure {
		return errors.New("broker: TLS enabled without CA material or insecure flag")
	}
	if c.AutoReconnect && c.ReconnectDelayMin > c.ReconnectDelayMax {
		return errors.New("broker: reconnect_delay_min must not exceed reconnect_delay_max")
	}
	return nil
}
