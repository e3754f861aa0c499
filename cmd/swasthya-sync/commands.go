package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/export"
	"github.com/raj3104/SwasthyaSanket/internal/service"
)

var (
	workerName  string
	workerPhone string
	seedFile    string
	seedPath    string
	reportOut   string
	timeout     time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Find a worker by name and phone and keep the record live until interrupted",
	RunE:  runWatch,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Resolve a worker once and write an Excel report",
	RunE:  runReport,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write documents from a JSON seed file into the document store",
	RunE:  runSeed,
}

func init() {
	for _, cmd := range []*cobra.Command{watchCmd, reportCmd} {
		cmd.Flags().StringVar(&workerName, "name", "", "worker name")
		cmd.Flags().StringVar(&workerPhone, "phone", "", "worker phone")
		cmd.Flags().StringVar(&seedFile, "seed", "", "seed file applied before the lookup (useful with the memory backend)")
	}
	reportCmd.Flags().StringVar(&reportOut, "out", "worker.xlsx", "output file")
	reportCmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "time to wait for a complete record")

	seedCmd.Flags().StringVar(&seedPath, "file", "seed.json", "seed file")
}

func runWatch(cmd *cobra.Command, args []string) error {
	log.Info("Starting swasthya-sync watch")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	startMetricsServer(ctx)

	if err := svc.Watch(ctx, workerName, workerPhone); err != nil {
		return err
	}
	log.Info("Service stopped")
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	backend, svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	rec, err := svc.Resolve(ctx, workerName, workerPhone)
	if err != nil {
		return err
	}

	data, err := export.WorkerReport(rec)
	if err != nil {
		return err
	}
	if err := os.WriteFile(reportOut, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	log.Info("Worker report written",
		zap.String("worker_id", string(rec.WorkerID)),
		zap.String("path", reportOut),
	)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	backend, err := service.NewStoreFromConfig(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	return applySeedFile(ctx, backend, seedPath)
}

func openService(ctx context.Context) (*service.Backend, *service.SyncService, error) {
	backend, err := service.NewStoreFromConfig(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}

	if seedFile != "" {
		if err := applySeedFile(ctx, backend, seedFile); err != nil {
			backend.Close()
			return nil, nil, err
		}
	}

	sinks, err := backend.Sinks(ctx)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}

	svc, err := service.NewSyncService(cfg, backend.Store, log, sinks...)
	if err != nil {
		backend.Close()
		return nil, nil, fmt.Errorf("failed to create sync service: %w", err)
	}
	return backend, svc, nil
}

func applySeedFile(ctx context.Context, backend *service.Backend, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	docs, err := service.LoadSeed(f)
	if err != nil {
		return err
	}
	return service.ApplySeed(ctx, backend.Store, docs, log)
}
