package viper

import (
	"testing"

	"github.com/spf13/cobra"
	lib "github.com/spf13/viper"
	tdd "github.com/stretchr/testify/assert"
	"go.bryk.io/mqtt-rpc/cli"
)

func TestBindFlags(t *testing.T) {
	assert := tdd.New(t)

	params := []cli.Param{
		{Name: "broker-host", Usage: "broker host", FlagKey: "broker_host", ByDefault: "localhost"},
		{Name: "broker-port", Usage: "broker port", FlagKey: "broker_port", ByDefault: 1883},
	}

	cmd := &cobra.Command{Use: "test"}
	assert.Nil(cli.SetupCommandParams(cmd, params))

	vp := lib.New()
	assert.Nil(BindFlags(cmd, params, vp))

	assert.Equal("localhost", vp.GetString("broker_host"))
	assert.Equal(1883, vp.GetInt("broker_port"))

	assert.Nil(cmd.Flags().Set("broker-host", "mqtt.example.internal"))
	assert.Equal("mqtt.example.internal", vp.GetString("broker_host"))
}
