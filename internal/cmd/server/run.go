package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/PhiYerion/bucface/internal/config"
	"github.com/PhiYerion/bucface/internal/metrics"
	"github.com/PhiYerion/bucface/internal/runtime"
	httpserver "github.com/PhiYerion/bucface/internal/server/http"
	brokersvc "github.com/PhiYerion/bucface/internal/services/broker"
	pebblestore "github.com/PhiYerion/bucface/internal/storage/pebble"
	logpkg "github.com/PhiYerion/bucface/pkg/log"
)

type Options struct {
	DataDir       string
	Addr          string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// Logger overrides the process logger built from Config.Log.
	Logger logpkg.Logger
}

func (o *Options) normalize() {
	if o.DataDir == "" {
		o.DataDir = cfgpkg.DefaultDataDir()
	}
	if o.Addr == "" {
		o.Addr = ":7070"
	}
	if o.Config.Collection == "" {
		o.Config = cfgpkg.Default()
	}
}

func processLogger(c cfgpkg.LogConfig) (logpkg.Logger, *logpkg.Config) {
	cfg := &logpkg.Config{
		Level:            c.Level,
		Format:           c.Format,
		Redact:           c.Redact,
		SampleInitial:    c.SampleInitial,
		SampleThereafter: c.SampleThereafter,
	}
	l, err := logpkg.ApplyConfig(cfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if parsed, e := logpkg.ParseLevel(cfg.Level); e == nil {
			lvl = parsed
		}
		l = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	return l, cfg
}

// Run opens the store, starts the broker and its HTTP surface, and blocks
// until ctx is cancelled or a component fails.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	opts.normalize()

	procLogger := opts.Logger
	if procLogger == nil {
		var lc *logpkg.Config
		procLogger, lc = processLogger(opts.Config.Log)
		logpkg.RedirectStdLog(procLogger)
		procLogger.Info("log config", logpkg.Str("level", lc.Level), logpkg.Str("format", lc.Format))
	}

	m := metrics.New()
	storeDir := filepath.Join(opts.DataDir, "store")
	rt, err := runtime.Open(runtime.Options{
		DataDir:       storeDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Config:        opts.Config,
		Metrics:       m,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("starting bucface broker",
		logpkg.Str("addr", opts.Addr),
		logpkg.Str("store", storeDir),
		logpkg.Str("collection", rt.Log().Collection()),
		logpkg.Uint64("next_id", rt.Log().Next()),
		logpkg.Str("fsync", opts.Fsync.String()),
	)

	broker := brokersvc.New(brokersvc.LogStore(rt.Log()), brokersvc.Options{
		OutboundQueue: opts.Config.Broker.OutboundQueue,
		Logger:        procLogger,
		Metrics:       m,
	})
	hsrv := httpserver.New(rt, broker, m, procLogger)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return broker.Run(gctx) })
	g.Go(func() error {
		return hsrv.ListenAndServe(gctx, opts.Addr)
	})

	err = g.Wait()
	broker.Wait()
	procLogger.Info("bucface broker stopped")
	return err
}
