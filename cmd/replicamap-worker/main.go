// Command replicamap-worker runs one Ops Worker process against a
// configured set of partitions: it bootstraps local state from the data and
// ops topics, tails ops for steady-state updates, and runs the paired flush
// worker and clean consumer for the same partition set.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/salewski/replicamap/internal/cleanconsumer"
	"github.com/salewski/replicamap/internal/config"
	"github.com/salewski/replicamap/internal/flushqueue"
	"github.com/salewski/replicamap/internal/flushworker"
	"github.com/salewski/replicamap/internal/logbus"
	"github.com/salewski/replicamap/internal/metrics"
	"github.com/salewski/replicamap/internal/opsworker"
	"github.com/salewski/replicamap/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "replicamap-worker",
		Short: "Run a replicamap Ops Worker process.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "replicamap.toml", "path to the TOML configuration file")
	return cmd
}

func run(ctx context.Context, configPath string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("replicamap-worker: build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	workerMetrics := metrics.NewWorker(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server exited", zap.Error(err))
		}
	}()
	defer httpServer.Close()

	dataClientOpts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...), kgo.WithHooks(metrics.NewKafkaClientMetrics("data", reg))}
	opsClientOpts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...), kgo.WithHooks(metrics.NewKafkaClientMetrics("ops", reg))}
	flushClientOpts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...), kgo.WithHooks(metrics.NewKafkaClientMetrics("flush", reg))}

	rawDataClient, err := kgo.NewClient(dataClientOpts...)
	if err != nil {
		return fmt.Errorf("replicamap-worker: data client: %w", err)
	}
	rawOpsClient, err := kgo.NewClient(opsClientOpts...)
	if err != nil {
		return fmt.Errorf("replicamap-worker: ops client: %w", err)
	}
	rawOpsProducerClient, err := kgo.NewClient(opsClientOpts...)
	if err != nil {
		return fmt.Errorf("replicamap-worker: ops producer client: %w", err)
	}
	rawFlushClient, err := kgo.NewClient(flushClientOpts...)
	if err != nil {
		return fmt.Errorf("replicamap-worker: flush client: %w", err)
	}

	dataClient := logbus.NewClient(rawDataClient, cfg.Topics.Data, log.Named("data"))
	opsClient := logbus.NewClient(rawOpsClient, cfg.Topics.Ops, log.Named("ops"))
	opsProducer := logbus.NewProducer(rawOpsProducerClient, cfg.Topics.Ops, log.Named("ops-producer"))
	dataProducer := logbus.NewProducer(rawFlushClient, cfg.Topics.Data, log.Named("data-producer"))
	flushProducer := logbus.NewProducer(rawFlushClient, cfg.Topics.Flush, log.Named("flush-producer"))

	handler := store.New(log.Named("store"))
	cleanQueue := flushqueue.NewCleanQueue(cfg.CleanQueueCapacity)

	queues := make(map[int32]opsworker.FlushQueue, len(cfg.Partitions))
	flushQueues := make(map[int32]*flushqueue.Queue, len(cfg.Partitions))
	for _, p := range cfg.Partitions {
		q := flushqueue.New(cfg.FlushQueueCapacity)
		flushQueues[p] = q
		queues[p] = q
	}

	workerCfg := opsworker.Config{
		ClientID:             cfg.ClientID,
		AssignedParts:        cfg.Partitions,
		FlushPeriodOps:       cfg.FlushPeriodOps,
		DataTopic:            cfg.Topics.Data,
		OpsTopic:             cfg.Topics.Ops,
		FlushTopic:           cfg.Topics.Flush,
		PollBootstrapTimeout: cfg.PollBootstrapTimeoutMS,
		PollSteadyTimeout:    cfg.PollSteadyTimeoutMS,
	}
	worker := opsworker.NewWorker(workerCfg, log.Named("opsworker"), dataClient, opsClient, flushProducer, handler, queues, cleanQueue)
	worker.SetMetrics(workerMetrics)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return worker.Run(groupCtx) })

	for _, p := range cfg.Partitions {
		p, q := p, flushQueues[p]
		group.Go(func() error {
			fw := flushworker.New(p, cfg.ClientID, q, dataProducer, opsProducer, log.Named("flushworker"))
			return fw.Run(groupCtx)
		})
	}

	group.Go(func() error {
		cc := cleanconsumer.New(cleanQueue, cleanconsumer.NopObserver{}, log.Named("cleanconsumer"))
		return cc.Run(groupCtx)
	})

	group.Go(func() error {
		select {
		case <-worker.SteadyDone():
			if err := worker.Steady(); err != nil {
				return fmt.Errorf("replicamap-worker: worker failed before reaching steady state: %w", err)
			}
			log.Info("worker reached steady state")
			return nil
		case <-groupCtx.Done():
			// Canceled before the worker ever reached steady; Steady()
			// resolves only on success or terminal failure and would block
			// forever here (spec.md §4.E, §7).
			return nil
		}
	})

	return group.Wait()
}
