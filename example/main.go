// taskrouter-worker connects one worker and logs its events until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	taskrouter "github.com/st-keller/taskrouter-client"
	"github.com/st-keller/taskrouter-client/config"
	"github.com/st-keller/taskrouter-client/credential"
	"github.com/st-keller/taskrouter-client/logging"
	"github.com/st-keller/taskrouter-client/transport"
)

const version = "0.1.0"

var (
	flagConfig     string
	flagLogLevel   string
	flagLogFormat  string
	flagAutoAccept bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "taskrouter-worker",
		Short:        "Run a TaskRouter worker from the command line",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", config.DefaultConfigFile, "YAML config file (TASKROUTER_* env vars override it)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error), overrides the config")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json), overrides the config")

	root.AddCommand(newRunCmd(), newClaimsCmd(), newVersionCmd())
	return root
}

func load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, nil, err
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Logging.Format = flagLogFormat
	}
	return cfg, logging.NewLogger(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format), nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect the worker and log its events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&flagAutoAccept, "auto-accept", false, "Accept every reservation offered to the worker")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	httpClient, err := transport.BuildHTTP2Client(transport.Options{
		Timeout:  cfg.Command.Timeout,
		CertPath: cfg.Command.CertPath,
		KeyPath:  cfg.Command.KeyPath,
		CAPath:   cfg.Command.CAPath,
	})
	if err != nil {
		return err
	}

	worker, err := taskrouter.New(cfg.Token, taskrouter.Options{
		ConnectActivitySID:    cfg.Worker.ConnectActivitySID,
		DisconnectActivitySID: cfg.Worker.DisconnectActivitySID,
		CloseExistingSessions: cfg.Worker.CloseExistingSessions,
		Environment:           cfg.Environment,
		Logger:                logger,
		HTTPClient:            httpClient,
		HeartbeatInterval:     cfg.Signaling.HeartbeatInterval,
		CommandTimeout:        cfg.Command.Timeout,
	})
	if err != nil {
		return err
	}

	log := logging.Component(logger, "cli")
	offers := make(chan *taskrouter.Reservation, 16)
	worker.Subscribe(func(ev taskrouter.Event) {
		switch ev.Type {
		case taskrouter.EventReady:
			log.Info("worker ready", "activity", activityName(ev.Worker), "reservations", len(ev.Worker.Reservations()))
		case taskrouter.EventError:
			log.Error("worker error", "error", ev.Err)
		case taskrouter.EventTokenExpired:
			log.Warn("token expired, restart with a fresh token")
		case taskrouter.EventReservationCreated:
			log.Info("reservation offered", "reservation_sid", ev.Reservation.SID(), "task_sid", ev.Reservation.TaskSID())
			if flagAutoAccept {
				// Commands must not run on the signaling goroutine.
				select {
				case offers <- ev.Reservation:
				default:
					log.Warn("offer queue full, not accepting", "reservation_sid", ev.Reservation.SID())
				}
			}
		default:
			log.Info("worker event", "type", ev.Type)
		}
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(ctx); err != nil {
		return err
	}
	defer worker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case r := <-offers:
			if err := r.Accept(ctx); err != nil {
				log.Error("unable to accept reservation", "reservation_sid", r.SID(), "error", err)
				continue
			}
			log.Info("accepted reservation", "reservation_sid", r.SID())
		}
	}
}

func activityName(w *taskrouter.Worker) string {
	if a := w.Activity(); a != nil {
		return a.Name()
	}
	return ""
}

func newClaimsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claims",
		Short: "Print the identity and expiry carried by the configured token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			claims, err := credential.Parse(cfg.Token)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "account:   %s\n", claims.AccountSID())
			fmt.Fprintf(out, "workspace: %s\n", claims.WorkspaceSID())
			fmt.Fprintf(out, "worker:    %s\n", claims.WorkerSID())
			if exp := claims.Expiry(); !exp.IsZero() {
				fmt.Fprintf(out, "expires:   %s (in %s)\n", exp.Format(time.RFC3339), time.Until(exp).Round(time.Second))
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
