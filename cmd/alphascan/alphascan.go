package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"tailscale.com/tsweb"

	"github.com/banshee-data/alphascan/internal/config"
	"github.com/banshee-data/alphascan/internal/db"
	"github.com/banshee-data/alphascan/internal/fusion"
	"github.com/banshee-data/alphascan/internal/monitoring"
	"github.com/banshee-data/alphascan/internal/output"
	"github.com/banshee-data/alphascan/internal/pipeline"
	"github.com/banshee-data/alphascan/internal/replay"
	"github.com/banshee-data/alphascan/internal/version"
)

var (
	outDir     = flag.String("out", "output", "Output directory holding the RunN folders")
	configPath = flag.String("config", "", "Tuning config file (.json, .yaml); built-in defaults if empty")
	radarLog   = flag.String("radar", "", "Radar cluster log to replay")
	gpsLog     = flag.String("gps", "", "GPS fix log to replay")
	tagsLog    = flag.String("tags", "", "RFID tag peak log to replay")
	speed      = flag.Float64("speed", 0, "Replay speed multiplier (1 = capture rate, 0 = as fast as possible)")
	listen     = flag.String("listen", "", "Debug and metrics listen address, e.g. localhost:8080 (empty disables)")
	dbPath     = flag.String("db", "", "Run catalog SQLite file (empty disables)")
	logFile    = flag.String("log-file", "", "Rotating log file (empty logs to stderr only)")
	logLevel   = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	serve      = flag.Bool("serve", false, "Keep serving debug routes after the run until interrupted")
	showVer    = flag.Bool("version", false, "Print the version and exit")
	infoFlags  infoList
)

func init() {
	flag.Var(&infoFlags, "info", "Key=Value line added to the run's Info.txt (repeatable)")
}

// infoList collects repeated -info Key=Value flags in order.
type infoList []output.InfoEntry

func (l *infoList) String() string {
	parts := make([]string, len(*l))
	for i, e := range *l {
		parts[i] = fmt.Sprintf("%s=%v", e.Key, e.Value)
	}
	return strings.Join(parts, ",")
}

func (l *infoList) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected Key=Value, got %q", v)
	}
	*l = append(*l, output.InfoEntry{Key: key, Value: strings.TrimSpace(value)})
	return nil
}

// options is everything a run needs, separated from the flag globals so
// tests can drive a run directly.
type options struct {
	OutDir     string
	ConfigPath string
	Logs       replay.Paths
	Speed      float64
	Listen     string
	DBPath     string
	Serve      bool
	Info       []output.InfoEntry
	Logger     *logrus.Logger
}

// sensors names the producers a run is fed from, for Info.txt.
func sensors(p replay.Paths) []string {
	var out []string
	if p.Radar != "" {
		out = append(out, "mmWave")
	}
	if p.Gps != "" {
		out = append(out, "GPS")
	}
	if p.Tags != "" {
		out = append(out, "RFID")
	}
	return out
}

func loadTuning(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// logSink reports every emitted record at debug level.
type logSink struct {
	logger *logrus.Logger
}

func (s logSink) Publish(r fusion.TagObjectLocation) {
	s.logger.WithFields(logrus.Fields{
		"tag":  r.TagID,
		"lat":  r.Lat,
		"lon":  r.Lon,
		"side": r.Side.String(),
	}).Debug("object located")
}

func (s logSink) RunOver() {
	s.logger.Debug("run over")
}

// run replays one recording through a fresh session and returns the run
// summary. Cancelling ctx aborts the replay; the run is then finished
// without waiting for stage B to catch up.
func run(ctx context.Context, o options) (fusion.RunSummary, error) {
	log := o.Logger
	tuning, err := loadTuning(o.ConfigPath)
	if err != nil {
		return fusion.RunSummary{}, fmt.Errorf("failed to load tuning config: %w", err)
	}

	rec, err := replay.Load(o.Logs)
	if err != nil {
		return fusion.RunSummary{}, fmt.Errorf("failed to load recording: %w", err)
	}
	log.Infof("loaded recording: %d clusters, %d fixes, %d tag peaks", len(rec.Radar), len(rec.Gps), len(rec.Tags))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	outMetrics, err := output.NewMetrics(reg)
	if err != nil {
		return fusion.RunSummary{}, err
	}
	pipeMetrics, err := pipeline.NewMetrics(reg)
	if err != nil {
		return fusion.RunSummary{}, err
	}

	mgr, err := output.NewManager(output.Config{
		Root:          o.OutDir,
		DrainTimeout:  tuning.GetWriterDrainTimeout(),
		WriteTimeout:  tuning.GetWriteTimeout(),
		RetryInterval: tuning.GetWriteRetryInterval(),
		Metrics:       outMetrics,
	})
	if err != nil {
		return fusion.RunSummary{}, err
	}

	var catalog *db.DB
	if o.DBPath != "" {
		catalog, err = db.NewDB(o.DBPath)
		if err != nil {
			return fusion.RunSummary{}, fmt.Errorf("failed to open run catalog: %w", err)
		}
		defer catalog.Close()
	}

	producers := replay.NewProducers()
	pctx := pipeline.NewContext(producers.Radar, producers.Gps, producers.Tags)
	broadcaster := pipeline.NewBroadcaster()
	defer broadcaster.Close()
	pctx.Sink = pipeline.MultiSink{broadcaster, logSink{logger: log}}

	p := pipeline.New(pctx, pipeline.Config{
		Params:           tuning.ToFusionParams(),
		PollInterval:     tuning.GetPollInterval(),
		StageWaitTimeout: tuning.GetStageWaitTimeout(),
		TagDrainTimeout:  tuning.GetTagDrainTimeout(),
		Metrics:          pipeMetrics,
	})
	info := append(append([]output.InfoEntry(nil), o.Info...), output.InfoEntry{Key: version.InfoKey, Value: version.Version})
	sessCfg := pipeline.SessionConfig{Info: info, Sensors: sensors(o.Logs)}
	if catalog != nil {
		sessCfg.Catalog = catalog
	}
	sess := pipeline.NewSession(p, mgr, sessCfg)

	// Serve until the run is over, or until interrupted with -serve.
	serveCtx, stopServing := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopServing()
		wg.Wait()
	}()
	if o.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
		tsweb.Debugger(mux).KV("Version", version.String())
		p.AttachAdminRoutes(mux, broadcaster)
		if catalog != nil {
			if err := catalog.AttachAdminRoutes(mux); err != nil {
				return fusion.RunSummary{}, err
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(serveCtx, log, o.Listen, mux)
		}()
	}

	started, err := sess.Start(ctx)
	if err != nil {
		return fusion.RunSummary{}, fmt.Errorf("failed to start run: %w", err)
	}
	log.WithFields(logrus.Fields{"run": started.Number, "id": started.ID, "dir": started.Dir}).Info("run started")

	replayErr := replay.Run(ctx, rec, producers, replay.Config{SpeedMultiplier: o.Speed, Logf: log.Infof})
	process := replayErr == nil
	if process {
		// Every producer is closed; let both stages reach end of stream.
		wait := tuning.GetStageWaitTimeout()
		if !p.WaitStageA(wait) || !p.WaitStageB(wait) {
			log.Warnf("stages still running %v after replay ended", wait)
		}
	} else {
		log.Warnf("replay interrupted: %v", replayErr)
	}

	// Finish must complete even when ctx was cancelled.
	summary, err := sess.Finish(context.WithoutCancel(ctx), process)
	fields := logrus.Fields{
		"run":      started.Number,
		"records":  summary.Records,
		"tagged":   summary.Tagged,
		"untagged": summary.Untagged,
		"tags":     summary.UniqueTags,
	}
	if err != nil {
		log.WithFields(fields).Errorf("run failed: %v", err)
		return summary, err
	}
	log.WithFields(fields).Info("run completed")

	if o.Serve && o.Listen != "" && process {
		log.Infof("serving debug routes on %s until interrupted", o.Listen)
		<-ctx.Done()
	}
	if !process && !errors.Is(replayErr, context.Canceled) {
		return summary, replayErr
	}
	return summary, nil
}

// serveHTTP runs an HTTP server until ctx is done.
func serveHTTP(ctx context.Context, log *logrus.Logger, addr string, h http.Handler) {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()
	log.Infof("debug routes on http://%s/debug/", addr)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Warnf("HTTP server force close error: %v", err)
		}
	}
	log.Debug("HTTP server stopped")
}

func main() {
	flag.Parse()

	if *showVer {
		fmt.Println("alphascan", version.String())
		return
	}

	logger, closer, err := monitoring.NewLogger(monitoring.LogConfig{Level: *logLevel, FilePath: *logFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "alphascan: %v\n", err)
		os.Exit(2)
	}
	defer closer.Close()
	monitoring.SetLogger(monitoring.LogrusLogf(logger))

	if *radarLog == "" && *gpsLog == "" {
		logger.Error("at least one of -radar or -gps is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = run(ctx, options{
		OutDir:     *outDir,
		ConfigPath: *configPath,
		Logs:       replay.Paths{Radar: *radarLog, Gps: *gpsLog, Tags: *tagsLog},
		Speed:      *speed,
		Listen:     *listen,
		DBPath:     *dbPath,
		Serve:      *serve,
		Info:       infoFlags,
		Logger:     logger,
	})
	if err != nil {
		logger.Errorf("alphascan: %v", err)
		stop()
		closer.Close()
		os.Exit(1)
	}
	logger.Info("graceful shutdown complete")
}
