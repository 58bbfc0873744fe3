package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/internal/api"
	"github.com/schemaguard/schemaguard/internal/lock"
	"github.com/schemaguard/schemaguard/internal/watch"
	"github.com/schemaguard/schemaguard/internal/ws"
)

var (
	serveAddr  string
	serveCORS  bool
	serveWatch string
	serveYes   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis API server",
	Long: `Serve the analysis API on localhost. POST /api/analyze runs an analysis,
GET /api/results/latest returns the last report and /api/ws streams analysis
events to websocket clients. With --watch the server also re-analyzes a
models directory whenever it changes and broadcasts the outcome.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		l, err := lock.Acquire("", "serve")
		if err != nil {
			return err
		}
		defer l.Release()

		addr := serveAddr
		if addr == "" {
			addr = a.cfg.Server.Addr
		}

		hub := ws.NewHub(a.logger)
		go hub.Run()
		defer hub.Stop()

		srv := api.New(a.engine, a.logger, addr,
			api.WithHub(hub),
			api.WithCORS(serveCORS),
		)

		ctx := cmd.Context()
		if serveWatch != "" {
			cycle := &watch.Cycle{Engine: a.engine, Source: serveWatch, AutoApprove: serveYes}
			run := func(ctx context.Context) error {
				return srv.RunCycle(ctx, cycle)
			}
			if err := run(ctx); err != nil {
				return err
			}
			w, err := watch.New(serveWatch, a.cfg.Watch.Debounce(), a.logger, run)
			if err != nil {
				return err
			}
			go func() {
				if err := w.Run(ctx); err != nil {
					a.logger.Error("watcher stopped", "error", err)
				}
			}()
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		fmt.Fprintf(os.Stderr, "schemaguard API: http://%s\n", addr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			a.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr, 127.0.0.1:8484)")
	serveCmd.Flags().BoolVar(&serveCORS, "cors", false, "allow cross-origin requests")
	serveCmd.Flags().StringVar(&serveWatch, "watch", "", "models file or directory to re-analyze on change")
	serveCmd.Flags().BoolVarP(&serveYes, "yes", "y", false, "save watched plans that would otherwise need review")
	rootCmd.AddCommand(serveCmd)
}
