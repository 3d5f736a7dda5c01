package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAppliesOptionsAndDefaults(t *testing.T) {
	s, err := Open("localhost", 1883,
		WithClientID("test-client"),
		WithCredentials("user", "pass"),
		WithKeepalive(15*time.Second),
		WithAutoReconnect(1*time.Second, 30*time.Second),
	)
	require.NoError(t, err)
	assert.Equal(t, "test-client", s.cfg.ClientID)
	assert.Equal(t, "user", s.cfg.Username)
	assert.Equal(t, 15*time.Second, s.cfg.Keepalive)
	assert.True(t, s.cfg.AutoReconnect)
	assert.Equal(t, Disconnected, s.State())
}

func TestOpenGeneratesClientIDWhenUnset(t *testing.T) {
	s, err := Open("localhost", 1883)
	require.NoError(t, err)
	assert.NotEmpty(t, s.cfg.ClientID)
}

func TestOpenRejectsInvalidOption(t *testing.T) {
	_, err := Open("localhost", 1883, WithKeepalive(-1))
	assert.Error(t, err)
}

func TestPublishFailsWhenNotConnected(t *testing.T) {
	s, err := Open("localhost", 1883)
	require.NoError(t, err)
	err = s.Publish("a/b", 0, []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubscribeUnsubscribePersistWhenDisconnected(t *testing.T) {
	s, err := Open("localhost", 1883)
	require.NoError(t, err)

	require.NoError(t, s.Subscribe("a/+", 1))
	assert.Equal(t, map[string]byte{"a/+": 1}, s.subs.snapshot())

	require.NoError(t, s.Unsubscribe("a/+"))
	assert.Empty(t, s.subs.snapshot())
}

func TestConnectionCallbackFiresOnStateChange(t *testing.T) {
	s, err := Open("localhost", 1883)
	require.NoError(t, err)

	seen := make(chan State, 4)
	s.SetConnectionCallback(func(st State) { seen <- st })

	s.setState(Connecting)
	s.setState(Connected)

	assert.Equal(t, Connecting, <-seen)
	assert.Equal(t, Connected, <-seen)
}

func TestBackoffDelayClampsToMax(t *testing.T) {
	min := 1 * time.Second
	max := 10 * time.Second
	for attempt := 0; attempt < 10; attempt++ {
		d := backoffDelay(attempt, min, max)
		assert.LessOrEqual(t, d, max+max/5+time.Millisecond)
		assert.GreaterOrEqual(t, d, min)
	}
}

func TestBuildTLSConfigInsecureWithoutCA(t *testing.T) {
	conf, err := buildTLSConfig(TLS{Insecure: true})
	require.NoError(t, err)
	assert.True(t, conf.InsecureSkipVerify)
}

func TestBuildTLSConfigRejectsUnsupportedVersion(t *testing.T) {
	_, err := buildTLSConfig(TLS{Insecure: true, Version: "tlsv0.9"})
	assert.Error(t, err)
}

func TestGetStatisticsSnapshot(t *testing.T) {
	s, err := Open("localhost", 1883)
	require.NoError(t, err)
	s.IncRequestsSent()
	s.IncResponsesReceived()
	s.IncNotificationsSent()

	stats := s.GetStatistics()
	assert.Equal(t, uint64(1), stats.RequestsSent)
	assert.Equal(t, uint64(1), stats.ResponsesReceived)
	assert.Equal(t, uint64(1), stats.NotificationsSent)
}
