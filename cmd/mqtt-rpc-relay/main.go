// Command mqtt-rpc-relay runs a standalone Relay Engine across the
// broker pool and rule table described by a configuration file,
// without an RPC Client of its own.
package main

import (
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.bryk.io/mqtt-rpc/broker"
	"go.bryk.io/mqtt-rpc/cli"
	cliViper "go.bryk.io/mqtt-rpc/cli/viper"
	"go.bryk.io/mqtt-rpc/config"
	"go.bryk.io/mqtt-rpc/errors"
	xlog "go.bryk.io/mqtt-rpc/log"
	"go.bryk.io/mqtt-rpc/relay"
	"go.bryk.io/mqtt-rpc/status"
)

var params = []cli.Param{
	{Name: "config-dir", Usage: "additional directory to search for config.json", FlagKey: "config_dir", ByDefault: ""},
	{Name: "drain-timeout", Usage: "seconds to wait for in-flight forwards on shutdown", FlagKey: "drain_timeout", ByDefault: 5},
	{Name: "relay-prefix", Usage: "override relay.relay_prefix from the configuration file", FlagKey: "relay_prefix", ByDefault: ""},
	{Name: "rules-file", Usage: "load additional rules from a standalone YAML document, installed after the configuration file's rules", FlagKey: "rules_file", ByDefault: ""},
	{Name: "status-addr", Usage: "listen address for a websocket feed of relay status; disabled when empty", FlagKey: "status_addr", ByDefault: ""},
}

func main() {
	vp := viper.New()
	root := &cobra.Command{
		Use:   "mqtt-rpc-relay",
		Short: "Run a standalone RPC-over-MQTT relay engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, vp)
		},
	}
	if err := cli.SetupCommandParams(root, params); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cliViper.BindFlags(root, params, vp); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string, vp *viper.Viper) error {
	log := xlog.Discard()

	configDir, _ := cmd.Flags().GetString("config-dir")
	var extra []string
	if configDir != "" {
		extra = append(extra, configDir)
	}

	f, err := config.Load("mqtt-rpc-relay", extra...)
	if err != nil {
		return err
	}
	if !f.Relay.Enabled {
		return errors.New("mqtt-rpc-relay: relay.enabled is false in the configuration")
	}
	if cmd.Flags().Changed("relay-prefix") {
		f.Relay.RelayPrefix = vp.GetString("relay_prefix")
	}

	engine := relay.NewEngine(log)

	sessions := make([]*broker.Session, 0, len(f.Relay.Brokers))
	defer func() {
		for _, s := range sessions {
			_ = s.Disconnect()
		}
	}()
	for _, bc := range f.Relay.Brokers {
		if bc.ID == "" {
			return errors.New("mqtt-rpc-relay: every entry in relay.brokers requires an id")
		}
		session, err := bc.Open()
		if err != nil {
			return errors.Wrapf(err, "mqtt-rpc-relay: opening broker %q", bc.ID)
		}
		if err := session.Connect(); err != nil {
			return errors.Wrapf(err, "mqtt-rpc-relay: connecting broker %q", bc.ID)
		}
		sessions = append(sessions, session)
		engine.AddSession(bc.ID, session)
	}

	for _, rr := range f.Relay.Rules {
		if err := engine.AddRule(rr.Rule()); err != nil {
			return errors.Wrapf(err, "mqtt-rpc-relay: installing rule %q", rr.Name)
		}
	}

	if rulesFile, _ := cmd.Flags().GetString("rules-file"); rulesFile != "" {
		doc, err := os.ReadFile(rulesFile)
		if err != nil {
			return errors.Wrapf(err, "mqtt-rpc-relay: reading rules file %q", rulesFile)
		}
		extraRules, err := relay.LoadRulesYAML(doc)
		if err != nil {
			return errors.Wrapf(err, "mqtt-rpc-relay: parsing rules file %q", rulesFile)
		}
		for _, r := range extraRules {
			if err := engine.AddRule(r); err != nil {
				return errors.Wrapf(err, "mqtt-rpc-relay: installing rule %q", r.Name)
			}
		}
	}

	if statusAddr, _ := cmd.Flags().GetString("status-addr"); statusAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", status.NewServer(status.RelayProvider(engine), time.Second))
		statusSrv := &http.Server{Addr: statusAddr, Handler: mux}
		go func() {
			if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithField("error", err.Error()).Warning("mqtt-rpc-relay: status server stopped")
			}
		}()
		defer func() {
			_ = statusSrv.Close()
		}()
	}

	engine.SetReady(true)
	log.Info("relay running, ctrl-c to stop")
	<-cli.SignalsHandler([]os.Signal{syscall.SIGINT, syscall.SIGTERM})

	drainTimeout, _ := cmd.Flags().GetInt("drain-timeout")
	return engine.Stop(time.Duration(drainTimeout) * time.Second)
}
