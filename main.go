package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cubesync/config"
	"cubesync/driver"
	"cubesync/netsync"
	"cubesync/recorder"
)

// cubesync 入口：按模式运行模拟链路、UDP 服务端或 UDP 客户端，并启动管理接口
func main() {
	cfg, err := config.LoadArgs(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log, err := driver.NewLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}

	if err := run(cfg, log); err != nil {
		log.Errorw("cubesync exited", "error", err)
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(cfg config.Config, log *zap.SugaredLogger) error {
	// 优雅退出（Ctrl+C）
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := driver.NewHub(log)
	defer hub.Close()

	recs := []netsync.Recorder{netsync.LogRecorder{Log: log}, hub}
	if cfg.RecordDB != "" {
		runID := fmt.Sprintf("%s-%s", cfg.Mode, time.Now().UTC().Format("20060102T150405"))
		store, err := recorder.Open(ctx, cfg.RecordDB, runID, log)
		if err != nil {
			return err
		}
		defer store.Close()
		recs = append(recs, store)
		log.Infow("recording releases", "db", cfg.RecordDB, "run_id", runID)
	}

	session, err := driver.NewSession(cfg, netsync.Options{
		Log:      log,
		Recorder: netsync.Recorders(recs...),
	})
	if err != nil {
		return err
	}
	defer session.Close()

	// 会话结束（RunFor 到期）时一并关闭管理接口
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return session.Run(gctx)
	})

	if cfg.AdminAddr != "" {
		srv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           driver.NewAdmin(session, hub, log).Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Infof("admin listening on %s", cfg.AdminAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin listen: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info("Shutting down...")
	return err
}
