package broker

import (
	"os"
	"time"

	"github.com/awnumar/memguard"
	"go.bryk.io/mqtt-rpc/errors"
	xlog "go.bryk.io/mqtt-rpc/log"
)

// Option adjusts a Session's configuration at Open time. Following the
// teacher's `func(*T) error` shape: an option can fail (e.g. a TLS file
// that doesn't exist) and Open surfaces that failure before any network
// activity starts.
type Option func(*Session) error

// WithCredentials sets the username/password used for the CONNECT
// handshake.
func WithCredentials(username, password string) Option {
	return func(s *Session) error {
		s.cfg.Username = username
		s.cfg.Password = password
		return nil
	}
}

// WithTLS enables TLS using the given file paths. The files are read
// each time the session dials (Connect and its retries); key material
// is staged into a memguard.LockedBuffer, decoded into a tls.Config and
// the buffer destroyed right after, so it is never retained past
// connection setup.
func WithTLS(caFile, certFile, keyFile, version string, insecure bool) Option {
	return func(s *Session) error {
		if caFile == "" && !insecure {
			return errors.New("broker: WithTLS requires a CA file unless insecure is set")
		}
		s.cfg.TLS = &TLS{
			CAFile:   caFile,
			CertFile: certFile,
			KeyFile:  keyFile,
			Version:  version,
			Insecure: insecure,
		}
		return nil
	}
}

// WithKeepalive sets the MQTT keepalive interval.
func WithKeepalive(d time.Duration) Option {
	return func(s *Session) error {
		if d <= 0 {
			return errors.New("broker: keepalive must be positive")
		}
		s.cfg.Keepalive = d
		return nil
	}
}

// WithAutoReconnect enables automatic reconnection with the given
// bounded exponential backoff range.
func WithAutoReconnect(min, max time.Duration) Option {
	return func(s *Session) error {
		if min <= 0 || max < min {
			return errors.New("broker: invalid reconnect delay bounds")
		}
		s.cfg.AutoReconnect = true
		s.cfg.ReconnectDelayMin = min
		s.cfg.ReconnectDelayMax = max
		return nil
	}
}

// WithHeartbeat enables a periodic keepalive publish while Connected.
func WithHeartbeat(topic string, interval time.Duration, payload []byte) Option {
	return func(s *Session) error {
		if topic == "" || interval <= 0 {
			return errors.New("broker: invalid heartbeat settings")
		}
		s.cfg.Heartbeat = &Heartbeat{Topic: topic, Interval: interval, Payload: payload}
		return nil
	}
}

// WithLogger sets the logger instance used for internal diagnostics.
// When not provided, a discard logger is used.
func WithLogger(l xlog.Logger) Option {
	return func(s *Session) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithClientID overrides the generated client identifier.
func WithClientID(id string) Option {
	return func(s *Session) error {
		s.cfg.ClientID = id
		return nil
	}
}

// loadKeyMaterial reads the cert and key files, moves the key bytes
// into a locked buffer (wiping the heap copy) and returns the cert
// bytes, the buffer's key bytes and a destroy func. Decoding into a
// tls.Certificate is left to the caller, which must call destroy once
// it is done with keyPEM.
func loadKeyMaterial(certFile, keyFile string) (certPEM, keyPEM []byte, destroy func(), err error) {
	certBytes, err := os.ReadFile(certFile)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "broker: read cert file")
	}
	keyBytes, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "broker: read key file")
	}

	buf := memguard.NewBufferFromBytes(keyBytes)
	return certBytes, buf.Bytes(), func() { buf.Destroy() }, nil
}
