package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfgpkg "github.com/PhiYerion/bucface/internal/config"
	"github.com/PhiYerion/bucface/internal/eventlog"
	"github.com/PhiYerion/bucface/internal/metrics"
	pebblestore "github.com/PhiYerion/bucface/internal/storage/pebble"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// Metrics receives storage observations. Optional.
	Metrics *metrics.Metrics
}

// Runtime owns the store and the served event collection for one broker.
type Runtime struct {
	db     *pebblestore.DB
	log    *eventlog.Log
	config cfgpkg.Config
}

// Open initializes storage and opens the configured collection.
func Open(opts Options) (*Runtime, error) {
	if opts.Config.Collection == "" {
		opts.Config = cfgpkg.Default()
	}
	po := pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync, FsyncInterval: opts.FsyncInterval}
	if opts.Metrics != nil {
		po.Metrics = opts.Metrics
	}
	db, err := pebblestore.Open(po)
	if err != nil {
		return nil, err
	}
	l, err := eventlog.Open(db, opts.Config.Collection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runtime: open collection %q: %w", opts.Config.Collection, err)
	}
	return &Runtime{db: db, log: l, config: opts.Config}, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth reports whether the store is readable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Ping()
}

// Log returns the served event collection.
func (r *Runtime) Log() *eventlog.Log { return r.log }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
