package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"leadtrack-engine/internal/config"
	"leadtrack-engine/internal/events"
	"leadtrack-engine/internal/httpapi"
	"leadtrack-engine/internal/scheduler"
	"leadtrack-engine/internal/secrets"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard API",
	Long: `Serves the dashboard HTTP API on app.bind:app.port and runs periodic
autosave and backups. Mutating endpoints require the X-API-Token header when
a token has been created with "leadtrack token rotate".`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token, err := secrets.GetAPIToken()
	switch {
	case errors.Is(err, secrets.ErrNoToken):
		logger.Warn("no API token set; mutating endpoints are unauthenticated")
	case err != nil:
		return err
	}

	hub := events.NewHub()
	ws, err := openWorkspace(ctx, hub, nil)
	if err != nil {
		return err
	}

	var cfgVal atomic.Value // stores config.Config
	cfgVal.Store(cfg)
	loadCfg := func() (config.Config, error) {
		c, err := config.Load(cfgPath)
		if err != nil {
			return c, err
		}
		c, _ = config.NormalizeAndValidate(c)
		return c, nil
	}

	handler := httpapi.NewRouter(httpapi.Deps{
		WS:            ws,
		Hub:           hub,
		CfgVal:        &cfgVal,
		UserCfgPath:   cfgPath,
		LoadCfg:       loadCfg,
		Token:         func() string { return token },
		RatePerSecond: cfg.App.RatePerSecond,
		Logger:        logger,
	})

	addr := net.JoinHostPort(cfg.App.Bind, strconv.Itoa(cfg.App.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = ws.Close(context.Background())
		return err
	}
	logger.Info("engine listening", zap.String("addr", "http://"+addr), zap.String("db", ws.Path()))

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		scheduler.Every(gctx, time.Duration(cfg.Autosave.IntervalSeconds)*time.Second, "autosave", ws.SaveIfDirty)
		return nil
	})
	g.Go(func() error {
		scheduler.Every(gctx, time.Duration(cfg.Backup.IntervalMinutes)*time.Minute, "backup", ws.RunBackup)
		return nil
	})

	err = g.Wait()
	logger.Info("engine stopped")
	return errors.Join(err, ws.Close(context.Background()))
}
