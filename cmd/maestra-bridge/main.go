// Maestra bridge - NATS/MQTT relay
//
// Runs standalone next to the fabric server: mirrors maestra/# MQTT
// traffic onto the subject tree as wrapped envelopes, and unwraps
// maestra.to_mqtt.> subjects back onto MQTT topics.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jordansnyder/maestra-core/pkg/bridge"
	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/config"
	"github.com/jordansnyder/maestra-core/pkg/util"
	"github.com/jordansnyder/maestra-core/pkg/version"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "maestra-bridge",
	Short:         "Relay between the NATS subject tree and the MQTT topic tree",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.LogJSON {
		util.SetJSONFormat()
	}
	log := util.WithComponent("maestra-bridge")
	log.Infof("maestra-bridge %s starting", version.Info())

	// Unlike the server, the bridge has no degraded mode: it exists
	// only to join the two trees, so both must be up.
	subjects, err := bus.ConnectNATS(cfg.NATSURL, "maestra-bridge")
	if err != nil {
		return err
	}
	defer subjects.Close()

	topics, err := bus.ConnectMQTT(cfg.MQTTAddr(), "maestra-bridge")
	if err != nil {
		return err
	}
	defer topics.Close()

	b := bridge.New(subjects, topics)
	if err := b.Start(); err != nil {
		return err
	}
	defer b.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return nil
}
