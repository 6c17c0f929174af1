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

	"github.com/mpataki/maestro/internal/api"
	"github.com/mpataki/maestro/internal/batch"
	"github.com/mpataki/maestro/internal/docs"
	"github.com/mpataki/maestro/internal/process"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API on localhost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			logger := e.cfg.NewLogger(os.Stdout, true)

			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				e.cfg.Addr = addr
			}
			flagFolder, _ := cmd.Flags().GetString("folder")
			folder, err := e.folder(flagFolder)
			if err != nil {
				return err
			}

			if n, err := e.db.MarkInterruptedRuns(); err != nil {
				logger.Warn("failed to mark interrupted runs", "error", err)
			} else if n > 0 {
				logger.Info("marked interrupted runs", "count", n)
			}

			opts, err := e.defaults()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store := docs.New(folder, logger)
			if changes, err := store.Watch(ctx); err == nil {
				go func() {
					for c := range changes {
						logger.Debug("document changed", "document", c.Filename, "version", c.Version, "removed", c.Removed)
					}
				}()
			} else {
				logger.Warn("document watcher unavailable", "error", err)
			}
			procs := process.NewManager(logger)
			ctrl := batch.New(store, procs, e.db, logger)

			router := api.NewRouter(api.Deps{
				Ctx:          ctx,
				Store:        store,
				Controller:   ctrl,
				Processes:    procs,
				History:      e.db,
				Settings:     e.settings,
				PlaybookDirs: e.cfg.PlaybookDirs(store.Folder()),
				Defaults:     opts,
			}, logger)

			srv := &http.Server{
				Addr:              e.cfg.Addr,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", e.cfg.Addr, "folder", store.Folder())
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("shutdown failed", "error", err)
			}

			// ctx cancellation has already asked the run to stop
			if ctrl.State().IsRunning {
				logger.Info("waiting for the current task to finish")
				ctrl.Wait()
			}
			return nil
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default: MAESTRO_ADDR)")
	cmd.Flags().StringP("folder", "f", "", "Auto Run folder (default: the autorun.folder setting)")
	return cmd
}
