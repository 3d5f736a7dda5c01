/*
Package broker owns a single transport connection to an MQTT broker:
connect/disconnect, TLS setup, subscriptions, publish, keepalive,
heartbeat, statistics and reconnection with bounded backoff.
*/
package broker

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"go.bryk.io/mqtt-rpc/errors"
	xlog "go.bryk.io/mqtt-rpc/log"
)

// State values track a Session's connection lifecycle, following the
// ASCII diagram: Disconnected -> Connecting -> Connected, with
// Reconnecting/Error reachable on transport loss.
type State uint32

// Recognized states.
const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Error
)

// String renders a State for logging.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectionCallback is notified on every state transition.
type ConnectionCallback func(State)

// MessageHandler receives inbound messages not consumed by a higher
// layer's own demultiplexer.
type MessageHandler func(topic string, payload []byte)

// Statistics is an immutable snapshot of a Session's counters.
type Statistics struct {
	MessagesSent      uint64
	MessagesReceived  uint64
	RequestsSent      uint64
	ResponsesReceived uint64
	NotificationsSent uint64
	Errors            uint64
	ConnectCount      uint64
	UptimeSeconds     float64
	LastActivity      time.Time
}

// ErrNotConnected is returned by Publish when the session is not in
// the Connected state.
var ErrNotConnected = errors.New("broker: not connected")

// Session owns one paho.mqtt.golang client plus the surrounding
// bookkeeping: subscription-set re-application, statistics, reconnect
// backoff and heartbeat.
type Session struct {
	cfg Config
	log xlog.Logger

	client paho.Client

	state      atomic.Uint32
	callbacks  []ConnectionCallback
	callbackMu sync.RWMutex

	subs  *SubscriptionSet
	msgH  MessageHandler
	msgMu sync.RWMutex

	stats   Statistics
	statsMu sync.Mutex
	started time.Time

	heartbeatOnce sync.Once
	heartbeatStop chan struct{}
	heartbeatDone chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Open builds and returns a Session; it does not connect automatically
// — call Connect to start the transport.
func Open(host string, port int, options ...Option) (*Session, error) {
	s := &Session{
		cfg: Config{
			Host:           host,
			Port:           port,
			CleanSession:   true,
			Keepalive:      30 * time.Second,
			ConnectTimeout: 10 * time.Second,
			MessageTimeout: 10 * time.Second,
		},
		log:    xlog.Discard(),
		subs:   newSubscriptionSet(),
		closed: make(chan struct{}),
	}
	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.cfg.ClientID == "" {
		s.cfg.ClientID = fmt.Sprintf("mqtt-rpc-%s", uuid.New().String())
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	s.state.Store(uint32(Disconnected))
	return s, nil
}

// State returns the session's current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// setState transitions the session and fans the new state out to every
// registered ConnectionCallback.
func (s *Session) setState(st State) {
	s.state.Store(uint32(st))
	s.callbackMu.RLock()
	cbs := make([]ConnectionCallback, len(s.callbacks))
	copy(cbs, s.callbacks)
	s.callbackMu.RUnlock()
	for _, cb := range cbs {
		cb(st)
	}
}

// SetConnectionCallback registers f to be called on every state
// transition.
func (s *Session) SetConnectionCallback(f ConnectionCallback) {
	s.callbackMu.Lock()
	s.callbacks = append(s.callbacks, f)
	s.callbackMu.Unlock()
}

// SetMessageHandler sets the handler invoked for every inbound message
// not otherwise consumed.
func (s *Session) SetMessageHandler(f MessageHandler) {
	s.msgMu.Lock()
	s.msgH = f
	s.msgMu.Unlock()
}

// Connect builds the underlying paho client and performs the initial
// handshake, moving Disconnected -> Connecting -> Connected. When
// auto-reconnect is enabled and the very first attempt fails, Connect
// retries internally with bounded exponential backoff instead of
// surfacing the failure immediately.
func (s *Session) Connect() error {
	s.setState(Connecting)
	s.started = time.Now()

	if err := s.dial(); err != nil {
		if !s.cfg.AutoReconnect {
			s.setState(Error)
			return err
		}
		return s.reconnectLoop(err)
	}
	return nil
}

// dial builds a fresh paho client and performs one connect attempt.
func (s *Session) dial() error {
	opts, err := s.clientOptions()
	if err != nil {
		return err
	}
	opts.OnConnectionLost = s.onConnectionLost
	opts.OnConnect = s.onConnect

	s.client = paho.NewClient(opts)
	tok := s.client.Connect()
	if !tok.WaitTimeout(s.cfg.ConnectTimeout) {
		return errors.New("broker: connect timed out")
	}
	if err := tok.Error(); err != nil {
		return errors.Wrap(err, "broker: connect failed")
	}
	return nil
}

// reconnectLoop retries dial, paced by a rate.Limiter whose limit is
// tightened after every failure to realise the min→max exponential
// backoff, until dial succeeds or the session is torn down via
// Disconnect. The limiter's Reserve/Delay pair (rather than Wait) keeps
// the sleep interruptible by s.closed.
func (s *Session) reconnectLoop(firstErr error) error {
	s.setState(Reconnecting)
	s.log.WithField("error", firstErr.Error()).Warning("broker: initial connect failed, retrying")

	limiter := rate.NewLimiter(rate.Every(s.cfg.ReconnectDelayMin), 1)
	limiter.Reserve() // drain the initial full bucket so the first retry also waits a full interval
	for attempt := 1; ; attempt++ {
		reservation := limiter.Reserve()
		select {
		case <-s.closed:
			reservation.Cancel()
			return errors.New("broker: reconnect aborted, session closed")
		case <-time.After(reservation.Delay()):
		}

		if err := s.dial(); err == nil {
			return nil
		}
		limiter.SetLimit(rate.Every(backoffDelay(attempt, s.cfg.ReconnectDelayMin, s.cfg.ReconnectDelayMax)))
	}
}

// onConnect fires on every successful (re)connect, including automatic
// reconnects driven by paho's own auto-reconnect loop. It re-applies
// the entire subscription set before the session is reported Connected,
// so no inbound message is missed by a subscription that hasn't been
// re-installed yet.
func (s *Session) onConnect(c paho.Client) {
	if err := s.reapplySubscriptions(); err != nil {
		s.log.WithField("error", err.Error()).Warning("failed to reapply subscriptions")
	}
	s.statsMu.Lock()
	s.stats.ConnectCount++
	s.statsMu.Unlock()
	s.setState(Connected)
	s.startHeartbeat()
}

// onConnectionLost fires whenever the transport drops. When
// auto-reconnect is enabled paho itself drives the retry, with its
// interval capped at ReconnectDelayMax; ReconnectDelayMin is not passed
// to paho and only paces reconnectLoop's initial-connect retries. The
// session surfaces the intermediate Reconnecting state so callers
// observe the transition.
func (s *Session) onConnectionLost(_ paho.Client, err error) {
	s.stopHeartbeat()
	if s.cfg.AutoReconnect {
		s.setState(Reconnecting)
	} else {
		s.setState(Disconnected)
	}
	s.log.WithField("error", err.Error()).Warning("connection lost")
}

// reapplySubscriptions snapshots the subscription set under its own
// lock, releases it, then sends the subscribe calls, so the client
// never blocks on network I/O while holding the lock.
func (s *Session) reapplySubscriptions() error {
	snapshot := s.subs.snapshot()
	if len(snapshot) == 0 {
		return nil
	}
	filters := make(map[string]byte, len(snapshot))
	for topic, qos := range snapshot {
		filters[topic] = qos
	}
	tok := s.client.SubscribeMultiple(filters, s.dispatch)
	if !tok.WaitTimeout(s.cfg.ConnectTimeout) {
		return errors.New("broker: subscribe reapplication timed out")
	}
	return tok.Error()
}

// dispatch is the paho message handler installed for every
// subscription; it forwards to the registered MessageHandler and
// updates receive statistics.
func (s *Session) dispatch(_ paho.Client, m paho.Message) {
	s.statsMu.Lock()
	s.stats.MessagesReceived++
	s.stats.LastActivity = time.Now()
	s.statsMu.Unlock()

	s.msgMu.RLock()
	h := s.msgH
	s.msgMu.RUnlock()
	if h != nil {
		h(m.Topic(), m.Payload())
	}
}

// Disconnect cleanly tears down the transport, moving to Disconnected.
func (s *Session) Disconnect() error {
	s.stopHeartbeat()
	s.closeOnce.Do(func() { close(s.closed) })
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.setState(Disconnected)
	return nil
}

// Publish sends payload on topic at the given QoS. Fails immediately
// with ErrNotConnected if the session is not Connected.
func (s *Session) Publish(topic string, qos byte, payload []byte) error {
	if s.State() != Connected {
		return ErrNotConnected
	}
	tok := s.client.Publish(topic, qos, false, payload)
	if !tok.WaitTimeout(s.cfg.MessageTimeout) {
		s.bumpErrors()
		return errors.New("broker: publish timed out")
	}
	if err := tok.Error(); err != nil {
		s.bumpErrors()
		return errors.Wrap(err, "broker: publish failed")
	}
	s.statsMu.Lock()
	s.stats.MessagesSent++
	s.stats.LastActivity = time.Now()
	s.statsMu.Unlock()
	return nil
}

// Subscribe persists pattern in the Subscription-set and, if
// Connected, subscribes immediately.
func (s *Session) Subscribe(pattern string, qos byte) error {
	s.subs.add(pattern, qos)
	if s.State() != Connected {
		return nil
	}
	tok := s.client.Subscribe(pattern, qos, s.dispatch)
	if !tok.WaitTimeout(s.cfg.MessageTimeout) {
		return errors.New("broker: subscribe timed out")
	}
	return tok.Error()
}

// Unsubscribe removes pattern from the Subscription-set and, if
// Connected, unsubscribes immediately.
func (s *Session) Unsubscribe(pattern string) error {
	s.subs.remove(pattern)
	if s.State() != Connected {
		return nil
	}
	tok := s.client.Unsubscribe(pattern)
	if !tok.WaitTimeout(s.cfg.MessageTimeout) {
		return errors.New("broker: unsubscribe timed out")
	}
	return tok.Error()
}

// GetStatistics returns a point-in-time copy of the session's
// counters.
func (s *Session) GetStatistics() Statistics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	snap := s.stats
	if !s.started.IsZero() {
		snap.UptimeSeconds = time.Since(s.started).Seconds()
	}
	return snap
}

func (s *Session) bumpErrors() {
	s.statsMu.Lock()
	s.stats.Errors++
	s.statsMu.Unlock()
}

// IncRequestsSent increments the requests-sent counter. Exposed so the
// rpc package, layered above a Session, can contribute to the same
// statistics snapshot without reaching into session internals.
func (s *Session) IncRequestsSent() {
	s.statsMu.Lock()
	s.stats.RequestsSent++
	s.statsMu.Unlock()
}

// IncResponsesReceived increments the responses-received counter.
func (s *Session) IncResponsesReceived() {
	s.statsMu.Lock()
	s.stats.ResponsesReceived++
	s.statsMu.Unlock()
}

// IncNotificationsSent increments the notifications-sent counter.
func (s *Session) IncNotificationsSent() {
	s.statsMu.Lock()
	s.stats.NotificationsSent++
	s.statsMu.Unlock()
}

// startHeartbeat idempotently starts the heartbeat goroutine. Calling
// it again while the heartbeat runs is a no-op; stopHeartbeat resets
// the sync.Once guard so the next (re)connect starts a fresh one.
func (s *Session) startHeartbeat() {
	if s.cfg.Heartbeat == nil {
		return
	}
	s.heartbeatOnce.Do(func() {
		s.heartbeatStop = make(chan struct{})
		s.heartbeatDone = make(chan struct{})
		go s.heartbeatLoop()
	})
}

// stopHeartbeat halts the heartbeat goroutine if running. It never
// retries through a disconnected state.
func (s *Session) stopHeartbeat() {
	if s.heartbeatStop == nil {
		return
	}
	select {
	case <-s.heartbeatStop:
	default:
		close(s.heartbeatStop)
	}
	<-s.heartbeatDone
	s.heartbeatOnce = sync.Once{}
}

func (s *Session) heartbeatLoop() {
	defer close(s.heartbeatDone)
	hb := s.cfg.Heartbeat
	ticker := time.NewTicker(hb.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.heartbeatStop:
			return
		case <-s.closed:
			return
		case <-ticker.C:
			if s.State() != Connected {
				return
			}
			if err := s.Publish(hb.Topic, 0, hb.Payload); err != nil {
				s.log.WithField("error", err.Error()).Warning("heartbeat publish failed")
			}
		}
	}
}

// clientOptions translates Config into paho.mqtt.golang's
// ClientOptions, wiring TLS, credentials, keepalive and, for paho's
// own reconnects, the ReconnectDelayMax cap.
func (s *Session) clientOptions() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions()
	scheme := "tcp"
	var tlsConf *tls.Config
	if s.cfg.TLS != nil {
		var err error
		tlsConf, err = buildTLSConfig(*s.cfg.TLS)
		if err != nil {
			return nil, err
		}
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, s.cfg.Host, s.cfg.Port))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetCleanSession(s.cfg.CleanSession)
	opts.SetKeepAlive(s.cfg.Keepalive)
	opts.SetConnectTimeout(s.cfg.ConnectTimeout)
	if tlsConf != nil {
		opts.SetTLSConfig(tlsConf)
	}
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(s.cfg.AutoReconnect)
	if s.cfg.AutoReconnect {
		opts.SetMaxReconnectInterval(s.cfg.ReconnectDelayMax)
		// paho's own auto-reconnect covers losses after a successful
		// initial connect; reconnectLoop covers the first attempt,
		// where paho has no established session yet to reconnect from.
	}
	return opts, nil
}

// buildTLSConfig decodes CA/cert/key file paths into a *tls.Config.
// Key material is staged through a locked buffer and wiped immediately
// after the certificate is parsed.
func buildTLSConfig(cfg TLS) (*tls.Config, error) {
	conf := &tls.Config{InsecureSkipVerify: cfg.Insecure} //nolint:gosec // explicit opt-in via config

	if cfg.CAFile != "" {
		pool := x509.NewCertPool()
		caPEM, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, errors.Wrap(err, "broker: read CA file")
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, errors.New("broker: failed to parse CA certificate")
		}
		conf.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		certPEM, keyPEM, destroy, err := loadKeyMaterial(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, err
		}
		defer destroy()
		cert, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, errors.Wrap(err, "broker: parse client key pair")
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	switch cfg.Version {
	case "tlsv1.2":
		conf.MinVersion = tls.VersionTLS12
	case "tlsv1.3":
		conf.MinVersion = tls.VersionTLS13
	case "":
		conf.MinVersion = tls.VersionTLS12
	default:
		return nil, errors.New("broker: unsupported tls_version")
	}
	return conf, nil
}

// backoffDelay computes the bounded exponential backoff for the
// attempt'th consecutive failure, plus up to 20% of added jitter (the
// result lies in [d, d+d/5)) so that many
// clients racing to reconnect to the same broker don't retry in
// lockstep.
func backoffDelay(attempt int, min, max time.Duration) time.Duration {
	d := min
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			d = max
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5)) //nolint:gosec // jitter, not a security boundary
	return d + jitter
}
