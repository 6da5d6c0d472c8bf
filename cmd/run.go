package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/batmaniv/batmand/agent"
	"github.com/batmaniv/batmand/config"
	"github.com/batmaniv/batmand/netsock"
)

// debugAddr serves the diagnostics counters and live route dump, the same
// way core/entrypoint.go's setupDebugging wires expvar/metric onto an
// HTTP listener.
const debugAddr = "127.0.0.1:6060"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the routing agent on this host",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := cmd.Flag("config").Value.String()
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		local, err := cfg.Address()
		if err != nil {
			return err
		}

		log := agent.NewLogger(local, parseLevel(cfg.LogLevel), nil)

		conn, cap, err := netsock.NewBroadcastSubstrate(cfg.Interface)
		if err != nil {
			return fmt.Errorf("binding broadcast substrate: %w", err)
		}
		defer conn.Close()

		eng := agent.NewEngine(local, cap, log, cfg.OgmConfig())

		go func() {
			if err := conn.ReadLoop(eng.OnDatagram); err != nil {
				log.Warn("run: read loop exited", "err", err)
			}
		}()

		mux := http.NewServeMux()
		mux.Handle("/debug/metrics", agent.Diagnostics())
		mux.Handle("/debug/routes", agent.RoutesHandler(eng))
		go func() {
			log.Info("run: serving diagnostics", "addr", debugAddr)
			if err := http.ListenAndServe(debugAddr, mux); err != nil {
				log.Warn("run: debug server exited", "err", err)
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sig
			log.Info("run: received shutdown signal")
			cancel()
		}()

		log.Info("run: agent started", "address", local.String(), "interface", cfg.Interface)
		err = eng.Start(ctx)
		cancel()
		return err
	},
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("config", "c", DefaultConfigPath, "path to the config file")
}
