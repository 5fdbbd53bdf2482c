// Command aisguard ingests AIS sentences from TCP, UDP, serial and file
// sources, flags implausible positions and streams updates to socket.io and
// MQTT consumers.
//
// Usage: aisguard [config-dir]
//
// settings.json and an optional .env are read from config-dir, which
// defaults to the working directory.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/madpsy/aisguard/api"
	"github.com/madpsy/aisguard/broadcast"
	"github.com/madpsy/aisguard/config"
	"github.com/madpsy/aisguard/ingest"
	"github.com/madpsy/aisguard/logging"
	"github.com/madpsy/aisguard/metrics"
	"github.com/madpsy/aisguard/sources"
	"github.com/madpsy/aisguard/store"
)

func main() {
	cfgDir := "."
	if len(os.Args) > 1 {
		cfgDir = os.Args[1]
	}
	cfg, err := config.Load(cfgDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogDir, cfg.Debug)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger.Logger); err != nil {
		logger.Error("aisguard stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("aisguard stopped")
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("using in-memory store")
		return store.NewMemory(), nil
	}
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	pg, err := store.OpenPostgres(openCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	log.Info("connected to postgres")
	return pg, nil
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var cache *store.StatsCache
	if cfg.RedisAddr != "" {
		cache, err = store.NewStatsCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StatsCacheTTLDuration())
		if err != nil {
			log.Warn("redis unavailable, will retry on demand", "addr", cfg.RedisAddr, "err", err)
		}
		defer cache.Close()
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	failedLog, failedCloser := logging.FailedDecodes(cfg.FailedDecodeLog)
	defer failedCloser.Close()

	bc := broadcast.New(cfg.BroadcastInterval(), log, m)
	sio := broadcast.NewSocketIO(func() any {
		vs, err := st.ListVessels(context.Background())
		if err != nil {
			log.Warn("snapshot vessels", "err", err)
		}
		return broadcast.LatestVesselData(vs)
	}, log)
	bc.AddSink(sio)

	if cfg.MQTTServer != "" {
		mq, err := broadcast.DialMQTT(broadcast.MQTTConfig{
			Server:      cfg.MQTTServer,
			TLS:         cfg.MQTTTLS,
			Auth:        cfg.MQTTAuth,
			TopicPrefix: cfg.MQTTTopic,
		})
		if err != nil {
			log.Warn("mqtt disabled", "server", cfg.MQTTServer, "err", err)
		} else {
			defer mq.Close()
			bc.AddSink(mq)
			log.Info("publishing to mqtt", "server", cfg.MQTTServer, "topic", cfg.MQTTTopic)
		}
	}

	router := ingest.New(st, bc, m, log, failedLog, ingest.Options{
		Shards:         cfg.NumWorkers,
		QueueSize:      cfg.QueueSize,
		FragmentTTL:    cfg.FragmentTTLDuration(),
		StrictChecksum: cfg.StrictChecksum,
		DedupeWindow:   cfg.DedupeWindow(),
		StatsInterval:  cfg.StatsIntervalDuration(),
		DefaultSpoofKm: cfg.DefaultSpoofLimitKm,
	})
	mgr := sources.NewManager(st, router, m, log, sources.Options{
		ReadTimeout: cfg.ReadTimeout(),
		RetryDelay:  cfg.RetryDelayDuration(),
	})

	srv := api.New(mgr, router, st, cache, log)
	srv.Mount("/metrics", promhttp.Handler())
	srv.Mount("/socket.io/*any", sio.Handler())
	if cfg.WebPath != "" {
		srv.ServeStatic(cfg.WebPath)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return router.Run(gctx) })
	g.Go(func() error { return bc.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx, cfg.ListenAddr()) })

	if cfg.InfluxAddr != "" {
		iw, err := metrics.NewInfluxWriter(cfg.InfluxAddr, cfg.InfluxDatabase, cfg.InfluxIntervalDuration(),
			influxSnapshots(router, st, log), log)
		if err != nil {
			log.Warn("influx disabled", "addr", cfg.InfluxAddr, "err", err)
		} else {
			defer iw.Close()
			g.Go(func() error { return iw.Run(gctx) })
		}
	}

	if err := mgr.Restore(gctx); err != nil {
		log.Error("restore sources", "err", err)
	}
	log.Info("aisguard started", "addr", cfg.ListenAddr())

	<-gctx.Done()
	mgr.Close()
	return g.Wait()
}

// influxSnapshots joins live ingest counters with each source's status.
func influxSnapshots(router *ingest.Router, st store.Store, log *slog.Logger) metrics.SnapshotFunc {
	return func() []metrics.Snapshot {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status := make(map[string]string)
		if list, err := st.ListSources(ctx); err != nil {
			log.Warn("influx snapshot sources", "err", err)
		} else {
			for _, s := range list {
				status[s.ID] = string(s.Status)
			}
		}
		stats := router.AllStats()
		out := make([]metrics.Snapshot, 0, len(stats))
		for _, s := range stats {
			out = append(out, metrics.Snapshot{
				SourceID:       s.SourceID,
				Status:         status[s.SourceID],
				Messages:       s.Messages,
				Fragments:      s.Fragments,
				DecodeErrors:   s.DecodeErrors,
				ChecksumErrors: s.ChecksumErrors,
				Duplicates:     s.Duplicates,
				Targets:        int64(s.Targets),
			})
		}
		return out
	}
}
