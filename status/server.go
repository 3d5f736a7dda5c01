// Package status streams broker and relay runtime counters to external
// observers over a websocket, as JSON frames (one value per websocket
// message, newline-terminated) pushed on a fixed interval. It renders nothing itself; a caller wanting a visual
// dashboard attaches one to this feed.
package status

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"go.bryk.io/mqtt-rpc/broker"
	"go.bryk.io/mqtt-rpc/relay"
	"go.bryk.io/mqtt-rpc/supervisor"
)

// BrokerSnapshot is one JSON frame describing a broker.Session.
type BrokerSnapshot struct {
	State      string            `json:"state"`
	Statistics broker.Statistics `json:"statistics"`
}

// BrokerProvider returns a Provider that reports s's current state and
// statistics every time it is called.
func BrokerProvider(s *broker.Session) func() BrokerSnapshot {
	return func() BrokerSnapshot {
		return BrokerSnapshot{State: s.State().String(), Statistics: s.GetStatistics()}
	}
}

// RelaySnapshot is one JSON frame describing an Engine's readiness flag
// and per-rule forwarding error counts.
type RelaySnapshot struct {
	Ready      bool              `json:"ready"`
	RuleErrors map[string]uint64 `json:"rule_errors"`
}

// RelayProvider returns a Provider that reports e's readiness and the
// error count of every currently installed rule.
func RelayProvider(e *relay.Engine) func() RelaySnapshot {
	return func() RelaySnapshot {
		rules := e.Rules()
		errs := make(map[string]uint64, len(rules))
		for _, r := range rules {
			errs[r.Name] = e.ErrorCount(r.Name)
		}
		return RelaySnapshot{Ready: e.Ready(), RuleErrors: errs}
	}
}

// SupervisorSnapshot is one JSON frame describing every record a
// Supervisor currently tracks.
type SupervisorSnapshot struct {
	Count   int               `json:"count"`
	Records []supervisor.Info `json:"records"`
}

// SupervisorProvider returns a Provider that reports sv's full record
// table every time it is called.
func SupervisorProvider(sv *supervisor.Supervisor) func() SupervisorSnapshot {
	return func() SupervisorSnapshot {
		ids := sv.GetAllIDs()
		records := make([]supervisor.Info, 0, len(ids))
		for _, id := range ids {
			if info, err := sv.GetInfo(id); err == nil {
				records = append(records, info)
			}
		}
		return SupervisorSnapshot{Count: len(records), Records: records}
	}
}

// Server upgrades incoming HTTP requests to a websocket connection and
// writes whatever Provider returns every Interval, until the client
// disconnects or a write fails.
type Server[T any] struct {
	Provider func() T
	Interval time.Duration
	upgrader websocket.Upgrader
}

// NewServer returns a Server for the given Provider. interval defaults
// to one second when <= 0.
func NewServer[T any](provider func() T, interval time.Duration) *Server[T] {
	if interval <= 0 {
		interval = time.Second
	}
	return &Server[T]{
		Provider: provider,
		Interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler. Non-websocket requests are
// rejected; this server has nothing to offer a plain HTTP client.
func (s *Server[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// the read loop's only purpose is to notice the client closing the
	// connection; this server doesn't accept any inbound messages.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.Provider()); err != nil {
				return
			}
		}
	}
}
