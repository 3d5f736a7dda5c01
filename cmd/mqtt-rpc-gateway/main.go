// Command mqtt-rpc-gateway runs a single Broker Session plus an RPC
// Client, configured from a JSON file and optional
// environment overrides.
package main

import (
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.bryk.io/mqtt-rpc/cli"
	cliViper "go.bryk.io/mqtt-rpc/cli/viper"
	"go.bryk.io/mqtt-rpc/config"
	xlog "go.bryk.io/mqtt-rpc/log"
	"go.bryk.io/mqtt-rpc/rpc"
	"go.bryk.io/mqtt-rpc/status"
	"go.bryk.io/mqtt-rpc/supervisor"
	"go.bryk.io/mqtt-rpc/topic"
)

var params = []cli.Param{
	{Name: "config-dir", Usage: "additional directory to search for config.json", FlagKey: "config_dir", ByDefault: ""},
	{Name: "qos", Usage: "default publish/subscribe QoS", FlagKey: "qos", ByDefault: 0},
	{Name: "cross-method", Usage: "subscribe across every method on the service prefix", FlagKey: "cross_method", ByDefault: false},
	{Name: "broker-host", Usage: "override broker_host from the configuration file", FlagKey: "broker_host", ByDefault: ""},
	{Name: "broker-port", Usage: "override broker_port from the configuration file", FlagKey: "broker_port", ByDefault: 0},
	{Name: "status-addr", Usage: "listen address for a websocket feed of broker status; disabled when empty", FlagKey: "status_addr", ByDefault: ""},
}

func main() {
	vp := viper.New()
	root := &cobra.Command{
		Use:   "mqtt-rpc-gateway",
		Short: "Run an RPC-over-MQTT gateway session",
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

	f, err := config.Load("mqtt-rpc-gateway", extra...)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("broker-host") {
		f.Broker.BrokerHost = vp.GetString("broker_host")
	}
	if cmd.Flags().Changed("broker-port") {
		f.Broker.BrokerPort = vp.GetInt("broker_port")
	}
	if err := f.Validate(); err != nil {
		return err
	}

	session, err := f.Broker.Open()
	if err != nil {
		return err
	}
	if err := session.Connect(); err != nil {
		return err
	}
	defer func() { _ = session.Disconnect() }()

	builder, err := topic.NewBuilder(f.Topic)
	if err != nil {
		return err
	}

	qos, _ := cmd.Flags().GetInt("qos")
	crossMethod, _ := cmd.Flags().GetBool("cross-method")

	client := rpc.NewClient(session, builder, byte(qos))
	if err := client.Start(crossMethod); err != nil {
		return err
	}
	defer client.Stop()

	// the supervisor hosts whatever process-like/function-like workers
	// the embedding program attaches to this gateway session; the
	// gateway itself only owns its lifecycle and status exposure.
	sv, err := supervisor.New(supervisor.WithLogger(log), supervisor.WithSentryDSN(f.Supervisor.SentryDSN))
	if err != nil {
		return err
	}
	defer func() { _ = sv.Destroy() }()

	if statusAddr, _ := cmd.Flags().GetString("status-addr"); statusAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", status.NewServer(status.BrokerProvider(session), time.Second))
		mux.Handle("/ws/supervisor", status.NewServer(status.SupervisorProvider(sv), time.Second))
		statusSrv := &http.Server{Addr: statusAddr, Handler: mux}
		go func() {
			if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithField("error", err.Error()).Warning("mqtt-rpc-gateway: status server stopped")
			}
		}()
		defer func() {
			_ = statusSrv.Close()
		}()
	}

	log.Info("gateway running, ctrl-c to stop")
	<-cli.SignalsHandler([]os.Signal{syscall.SIGINT, syscall.SIGTERM})
	return nil
}
