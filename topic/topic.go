/*
Package topic derives MQTT topic strings from a configured prefix tuple
and parses them back into their constituent parts. It knows nothing
about transport or envelopes; see the sibling `broker` package for the
connection that actually carries these strings.
*/
package topic

import (
	"strings"

	"go.bryk.io/mqtt-rpc/errors"
)

// Kind discriminates which of the three topic shapes Parse recovered.
type Kind int

// Recognized topic kinds.
const (
	KindRequest Kind = iota
	KindResponse
	KindNotification
)

// Config holds the five string fields that determine every topic
// string a Builder produces. All fields must be non-empty.
type Config struct {
	BasePrefix         string `mapstructure:"base_prefix" json:"base_prefix" yaml:"base_prefix"`
	ServicePrefix      string `mapstructure:"service_prefix" json:"service_prefix" yaml:"service_prefix"`
	RequestSuffix      string `mapstructure:"request_suffix" json:"request_suffix" yaml:"request_suffix"`
	ResponseSuffix     string `mapstructure:"response_suffix" json:"response_suffix" yaml:"response_suffix"`
	NotificationSuffix string `mapstructure:"notification_suffix" json:"notification_suffix" yaml:"notification_suffix"`
}

// Validate reports whether every field is populated.
func (c Config) Validate() error {
	if c.BasePrefix == "" || c.ServicePrefix == "" || c.RequestSuffix == "" ||
		c.ResponseSuffix == "" || c.NotificationSuffix == "" {
		return errors.New("topic: config requires all five fields to be non-empty")
	}
	return nil
}

// Builder renders and parses topic strings for a fixed Config.
type Builder struct {
	cfg Config
}

// NewBuilder validates cfg and returns a Builder over it.
func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg}, nil
}

// segmentValid rejects a candidate topic segment that embeds a raw
// MQTT wildcard or separator: such a value would corrupt the
// positional parse that Parse performs, silently splitting one field
// into two or merging two fields into one.
func segmentValid(s string) bool {
	return s != "" && !strings.ContainsAny(s, "+#/")
}

// Request renders the request topic for (method, service, txID):
// <base>/<service>/<method>/<transaction_id>/<request-suffix>.
func (b *Builder) Request(method, service, txID string) (string, error) {
	return b.build(method, service, txID, b.cfg.RequestSuffix)
}

// Response renders the response topic for (method, service, txID).
func (b *Builder) Response(method, service, txID string) (string, error) {
	return b.build(method, service, txID, b.cfg.ResponseSuffix)
}

// Notification renders the notification topic for (method, service).
// Notifications carry no transaction id.
func (b *Builder) Notification(method, service string) (string, error) {
	if !segmentValid(method) || !segmentValid(service) {
		return "", errors.New("topic: method/service must not contain '+', '#' or '/'")
	}
	return strings.Join([]string{
		b.cfg.BasePrefix, service, method, b.cfg.NotificationSuffix,
	}, "/"), nil
}

func (b *Builder) build(method, service, txID, suffix string) (string, error) {
	if !segmentValid(method) || !segmentValid(service) || !segmentValid(txID) {
		return "", errors.New("topic: method/service/transaction_id must not contain '+', '#' or '/'")
	}
	return strings.Join([]string{
		b.cfg.BasePrefix, service, method, txID, suffix,
	}, "/"), nil
}

// Parse recovers (method, service, txID, kind) from a rendered topic
// string. It is the exact inverse of Request/Response/Notification —
// parse_topic(build_topic(cfg, m, s, id)) == (m, s, id).
func (b *Builder) Parse(t string) (method, service, txID string, kind Kind, err error) {
	parts := strings.Split(t, "/")
	base := strings.Split(b.cfg.BasePrefix, "/")

	if len(parts) < len(base)+3 {
		return "", "", "", 0, errors.New("topic: too few segments to parse")
	}
	for i, seg := range base {
		if parts[i] != seg {
			return "", "", "", 0, errors.New("topic: base prefix mismatch")
		}
	}
	rest := parts[len(base):]

	switch {
	case len(rest) == 3 && rest[2] == b.cfg.NotificationSuffix:
		return rest[1], rest[0], "", KindNotification, nil
	case len(rest) == 4 && rest[3] == b.cfg.RequestSuffix:
		return rest[1], rest[0], rest[2], KindRequest, nil
	case len(rest) == 4 && rest[3] == b.cfg.ResponseSuffix:
		return rest[1], rest[0], rest[2], KindResponse, nil
	default:
		return "", "", "", 0, errors.New("topic: unrecognized suffix")
	}
}

// WildcardSubscription returns the pattern the client subscribes to on
// connect: <base>/<service-prefix>/+ for same-method listening, or
// <base>/<service-prefix>/# when crossMethod listening is wanted.
func (b *Builder) WildcardSubscription(crossMethod bool) string {
	wildcard := "+"
	if crossMethod {
		wildcard = "#"
	}
	return strings.Join([]string{b.cfg.BasePrefix, b.cfg.ServicePrefix, wildcard}, "/")
}
