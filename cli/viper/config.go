// Package viper bridges cobra command flags to a viper instance so a
// flag value can override a configuration file's setting under the
// same key.
package viper

import (
	"github.com/spf13/cobra"
	lib "github.com/spf13/viper"
	"go.bryk.io/mqtt-rpc/cli"
	"go.bryk.io/mqtt-rpc/errors"
)

// BindFlags will detect flags used to link parameters to the command and
// properly bind each one to the provided viper instance.
func BindFlags(cmd *cobra.Command, params []cli.Param, vp *lib.Viper) error {
	for _, p := range params {
		if err := errors.WithStack(vp.BindPFlag(p.FlagKey, cmd.Flags().Lookup(p.Name))); err != nil {
			return err
		}
	}
	return nil
}
