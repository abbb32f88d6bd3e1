package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"tickwrangler/config"
	"tickwrangler/internal/aggregator"
	"tickwrangler/internal/market"
	"tickwrangler/internal/memorystore"
	"tickwrangler/internal/metrics"
	"tickwrangler/internal/output"
	"tickwrangler/internal/replay"
	"tickwrangler/internal/stream"
	"tickwrangler/pkg/feed"
	"tickwrangler/pkg/publisher"
	"tickwrangler/pkg/storage/postgres"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pipeline is the in-memory part shared by both modes: the instrument
// roster, one timeline per instrument and the synchronizer joining them.
type Pipeline struct {
	Store *memorystore.InstrumentStore
	Sync  *aggregator.Synchronizer
}

// NewPipeline builds timelines for the configured roster in config order.
func NewPipeline(cfg *config.Config, logger *zap.Logger) (*Pipeline, error) {
	sync := aggregator.NewSynchronizer(logger)
	store := memorystore.NewInstrumentStore()

	for _, ic := range cfg.Instruments {
		class, _, err := market.ParseClass(ic.Class)
		if err != nil {
			return nil, fmt.Errorf("instrument %q: %w", ic.Name, err)
		}
		inst, err := market.NewInstrument(ic.Name, ic.ID, class)
		if err != nil {
			return nil, err
		}

		tl := memorystore.NewTimeline(inst, sync, logger, memorystore.WithTickLogging(cfg.Output.LogEachTick))
		if err := store.Add(tl); err != nil {
			return nil, err
		}
		sync.AddSource(tl)
	}

	logger.Info("instrument roster ready", zap.Int("instruments", len(cfg.Instruments)))
	return &Pipeline{Store: store, Sync: sync}, nil
}

// Write renders the current rows and timelines to the output directory.
func (p *Pipeline) Write(w *output.Writer) (output.Summary, error) {
	timelines := p.Store.GetAll()
	sources := make([]output.BucketSource, 0, len(timelines))
	for _, tl := range timelines {
		sources = append(sources, tl)
	}
	return w.Write(p.Sync, sources)
}

func newWriter(cfg *config.Config, logger *zap.Logger) (*output.Writer, error) {
	mode, err := output.ParseMode(cfg.Output.Mode)
	if err != nil {
		return nil, err
	}
	return output.NewWriter(output.Options{
		Dir:         cfg.Output.Dir,
		Mode:        mode,
		CutoffHour:  cfg.Output.CutoffHour,
		PriceLevels: cfg.Output.PriceLevels,
		AllStates:   cfg.Output.AllStates,
	}, logger), nil
}

// Run starts the configured mode and blocks until it finishes or ctx is done.
func Run(ctx context.Context, cfg *config.Config, runID string, logger *zap.Logger) error {
	switch cfg.Mode {
	case config.ModeReplay:
		return RunReplay(ctx, cfg, logger)
	case config.ModeLive:
		return RunLive(ctx, cfg, runID, logger)
	}
	return fmt.Errorf("unknown mode %q", cfg.Mode)
}

// RunReplay loads the configured intervals from Postgres, plays them back
// through the timelines and writes the output files once.
func RunReplay(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	client, err := postgres.InitializeAndMigrateTickRecord(cfg.Postgres, cfg.Log.Environment, false)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer client.Close()

	p, err := NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	w, err := newWriter(cfg, logger)
	if err != nil {
		return err
	}

	loader := newLoader(ctx, replay.NewPostgresSource(client), p, cfg.Replay.Intervals, logger)
	if err := replayInto(ctx, loader, logger); err != nil {
		return err
	}

	sum, err := p.Write(w)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	logger.Info("replay finished",
		zap.Int("rows", p.Sync.Len()),
		zap.Int("states", p.Store.CountStates()),
		zap.Strings("files", sum.Files))
	return nil
}

func newLoader(ctx context.Context, src replay.Source, p *Pipeline, intervals []config.IntervalConfig, logger *zap.Logger) *replay.Loader {
	loader := replay.NewLoader(ctx, src, logger)
	for _, tl := range p.Store.GetAll() {
		loader.AddInstrument(tl)
	}
	for _, ic := range intervals {
		start, end, err := ic.Parse()
		if err != nil {
			logger.Warn("skipping interval", zap.Error(err))
			continue
		}
		// rejected intervals are logged by the loader
		_ = loader.AddInterval(start, end)
	}
	return loader
}

func replayInto(ctx context.Context, loader *replay.Loader, logger *zap.Logger) error {
	if len(loader.Intervals()) == 0 {
		logger.Warn("no valid replay intervals configured")
	}
	if err := loader.Load(ctx); err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if err := loader.Playback(); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

// RunLive subscribes to the tick feed and keeps the pipeline running until
// ctx is done. Output files are rewritten at every daily cutoff and on exit.
func RunLive(ctx context.Context, cfg *config.Config, runID string, logger *zap.Logger) error {
	p, err := NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	w, err := newWriter(cfg, logger)
	if err != nil {
		return err
	}

	var (
		sink stream.Sink
		rec  *stream.Recorder
	)
	if cfg.Replay.RecordLive {
		client, err := postgres.InitializeAndMigrateTickRecord(cfg.Postgres, cfg.Log.Environment, true)
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer client.Close()

		rec = stream.NewRecorder(client, cfg.Replay.Retention, logger)
		sink = rec
	}

	if cfg.Kafka.Enabled {
		pub := publisher.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, runID,
			func(error) { metrics.PublishErrorsTotal.Inc() }, logger)
		defer pub.Close()
		p.Sync.OnRow(PublishRows(ctx, pub, p.Sync.Instruments(), cfg.Output.PriceLevels, logger))
	}
	p.Sync.OnRow(observeRow)

	ws := feed.NewWSClient(cfg.Feed.URL, instrumentNames(p.Store), cfg.Feed.ReconnectDelay, logger)
	ws.SetMessageHandler(stream.MakeMessageHandler(logger, p.Store, sink))
	if err := ws.Connect(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ws.Listen(ctx) })
	if rec != nil {
		g.Go(func() error { return rec.Run(ctx) })
	}

	flusher := &output.DailyFlusher{
		CutoffHour: cfg.Output.CutoffHour,
		Logger:     logger,
		Flush: func() error {
			_, err := p.Write(w)
			return err
		},
	}
	g.Go(func() error { return flusher.Run(ctx) })

	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics.Addr, logger) })
	}

	// Periodically print stored state count for visibility
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				logger.Info("current saved states",
					zap.Int("states", p.Store.CountStates()),
					zap.Int("rows", p.Sync.Len()),
					zap.Time("watermark", p.Sync.Watermark()))
			}
		}
	})

	return g.Wait()
}

// Publisher sends one keyed message downstream.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// PublishRows returns a row listener that publishes every row update keyed
// by the row time.
func PublishRows(ctx context.Context, pub Publisher, insts []*market.Instrument, levels int, logger *zap.Logger) aggregator.RowListener {
	if levels <= 0 {
		levels = output.DefaultPriceLevels
	}
	return func(r *aggregator.Row, _ *market.Instrument) {
		payload, err := output.RowJSON(r, insts, levels)
		if err != nil {
			logger.Warn("failed to encode row", zap.Time("at", r.Time()), zap.Error(err))
			metrics.PublishErrorsTotal.Inc()
			return
		}
		if err := pub.Publish(ctx, r.Time().Format(time.RFC3339Nano), payload); err != nil {
			metrics.PublishErrorsTotal.Inc()
		}
	}
}

func observeRow(r *aggregator.Row, _ *market.Instrument) {
	metrics.RowUpdatesTotal.Inc()
	metrics.Watermark.Set(float64(r.Time().Unix()))
}

func instrumentNames(store *memorystore.InstrumentStore) []string {
	insts := store.Instruments()
	names := make([]string, 0, len(insts))
	for _, inst := range insts {
		names = append(names, inst.Name())
	}
	return names
}

func serveMetrics(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
