package broker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTLSRequiresCAUnlessInsecure(t *testing.T) {
	s, err := Open("localhost", 1883)
	require.NoError(t, err)

	err = WithTLS("", "", "", "", false)(s)
	assert.Error(t, err)

	err = WithTLS("", "", "", "", true)(s)
	assert.NoError(t, err)
	assert.NotNil(t, s.cfg.TLS)
	assert.True(t, s.cfg.TLS.Insecure)
}

func TestWithHeartbeatValidation(t *testing.T) {
	s, err := Open("localhost", 1883)
	require.NoError(t, err)

	assert.Error(t, WithHeartbeat("", time.Second, nil)(s))
	assert.Error(t, WithHeartbeat("hb/topic", 0, nil)(s))
	require.NoError(t, WithHeartbeat("hb/topic", time.Second, []byte("ping"))(s))
	assert.Equal(t, "hb/topic", s.cfg.Heartbeat.Topic)
}

func TestLoadKeyMaterial(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certPath, []byte("cert-bytes"), 0o600))
	require.NoError(t, os.WriteFile(keyPath, []byte("key-bytes"), 0o600))

	certPEM, keyPEM, destroy, err := loadKeyMaterial(certPath, keyPath)
	require.NoError(t, err)
	defer destroy()
	assert.Equal(t, []byte("cert-bytes"), certPEM)
	assert.Equal(t, []byte("key-bytes"), keyPEM)
}

func TestLoadKeyMaterialMissingFile(t *testing.T) {
	_, _, _, err := loadKeyMaterial("/nonexistent/cert.pem", "/nonexistent/key.pem")
	assert.Error(t, err)
}
