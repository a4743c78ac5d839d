// Maestra - show control fabric server
//
// Serves the REST API over the entity catalog, the state engine, the
// stream registry, and the analytics sink, and fans every event out to
// the NATS and MQTT trees.
//
// Backing services degrade independently: without Postgres the catalog
// runs in memory, without NATS or MQTT the matching fan-out leg is
// skipped. Redis is required; the stream registry lives there.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jordansnyder/maestra-core/pkg/bus"
	"github.com/jordansnyder/maestra-core/pkg/config"
	"github.com/jordansnyder/maestra-core/pkg/ephemeral"
	"github.com/jordansnyder/maestra-core/pkg/history"
	"github.com/jordansnyder/maestra-core/pkg/server"
	"github.com/jordansnyder/maestra-core/pkg/state"
	"github.com/jordansnyder/maestra-core/pkg/store"
	"github.com/jordansnyder/maestra-core/pkg/stream"
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
	Use:           "maestra",
	Short:         "Show control fabric",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fabric server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("maestra " + version.Info())
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func serve() error {
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
	log := util.WithComponent("maestra")
	log.Infof("maestra %s starting", version.Info())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable store: Postgres when configured, in-memory otherwise.
	var st store.Store
	var recorder history.Recorder
	if cfg.DatabaseURL != "" {
		pg, err := store.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		st = pg
		recorder = history.NewPostgres(pg.DB())
		log.Info("durable store: postgres")
	} else {
		st = store.NewMemory()
		recorder = history.NewMemory()
		log.Warn("DATABASE_URL not set, running with in-memory store (nothing survives a restart)")
	}

	records, err := ephemeral.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer records.Close()

	var subjects bus.Bus
	if nb, err := bus.ConnectNATS(cfg.NATSURL, "maestra-core"); err != nil {
		log.WithError(err).Warn("NATS unreachable, subject tree disabled")
	} else {
		subjects = nb
		defer nb.Close()
	}

	var topics bus.Publisher
	if mb, err := bus.ConnectMQTT(cfg.MQTTAddr(), "maestra-core"); err != nil {
		log.WithError(err).Warn("MQTT unreachable, topic tree disabled")
	} else {
		topics = mb
		defer mb.Close()
	}

	fan := bus.NewFanout(subjects, topics)
	engine := state.NewEngine(st, recorder, fan)
	registry := stream.NewRegistry(records, fan, recorder)
	negotiator := stream.NewNegotiator(registry)

	if subjects != nil {
		if err := engine.StartIngress(subjects); err != nil {
			return fmt.Errorf("starting state ingress: %w", err)
		}
		defer engine.StopIngress()
		if err := registry.StartHeartbeatListeners(subjects); err != nil {
			return fmt.Errorf("starting heartbeat listeners: %w", err)
		}
		defer registry.StopHeartbeatListeners()
	}

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.New(st, engine, registry, negotiator, recorder, fan).Router(),
	}
	errc := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("shutdown incomplete")
		}
	}
	return nil
}
