package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	base := Config{Host: "localhost", Port: 1883}
	assert.NoError(t, base.Validate())

	bad := base
	bad.Host = ""
	assert.Error(t, bad.Validate())

	bad = base
	bad.Port = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.Port = 70000
	assert.Error(t, bad.Validate())

	bad = base
	bad.TLS = &TLS{}
	assert.Error(t, bad.Validate())

	ok := base
	ok.TLS = &TLS{Insecure: true}
	assert.NoError(t, ok.Validate())

	bad = base
	bad.AutoReconnect = true
	bad.ReconnectDelayMin = 10 * time.Second
	bad.ReconnectDelayMax = 5 * time.Second
	assert.Error(t, bad.Validate())
}
