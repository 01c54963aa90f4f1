// Package daemon runs the long-lived o324 process.
//
// The daemon:
//  1. Serves the task store over an HTTP API
//  2. Relays TaskActions to websocket subscribers
//  3. Watches the repository for commits made by other processes and
//     reloads the prefix cache when the branch moves
//  4. Optionally syncs with the remote on an interval
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/o324/o324/internal/docdb"
	"github.com/o324/o324/internal/notify"
	"github.com/o324/o324/internal/tasks"
	"github.com/o324/o324/internal/vcs"
)

// Config holds configuration for the daemon.
type Config struct {
	// Addr is the host:port the API listens on
	Addr string

	// GitDir is the repository's git directory to watch. Empty disables
	// watching, as for in-memory stores.
	GitDir string

	// Branch is the branch whose ref is watched
	Branch string

	// SyncInterval is how often to sync with the remote; zero disables
	SyncInterval time.Duration

	// DebounceInterval is how long ref changes must settle before a
	// reload. This batches the several writes of one commit together.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:             "127.0.0.1:3240",
		Branch:           vcs.DefaultBranch,
		DebounceInterval: 100 * time.Millisecond,
		Logger:           NewLogger(""),
	}
}

// NewLogger returns the daemon logger. With a path it writes to a
// rotating log file, otherwise to stderr.
func NewLogger(path string) *log.Logger {
	var out io.Writer = os.Stderr
	if path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return log.New(out, "[daemon] ", log.LstdFlags)
}

// Daemon serves one task store.
type Daemon struct {
	store  *tasks.Store
	hub    *notify.Hub
	config *Config

	router   *gin.Engine
	server   *http.Server
	listener net.Listener
	watcher  *RefWatcher
	ready    chan struct{}

	reloadAt time.Time // zero when no reload is queued
	reloadMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon. Store mutations made through the daemon are
// broadcast by hub.
func New(store *tasks.Store, hub *notify.Hub, config *Config) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.Branch == "" {
		config.Branch = def.Branch
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = def.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if hub == nil {
		hub = notify.NewHub(&notify.Config{Logger: config.Logger})
	}
	store.SetNotifier(hub)

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		store:  store,
		hub:    hub,
		config: config,
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	d.router = d.routes()
	return d, nil
}

// Handler returns the HTTP API.
func (d *Daemon) Handler() http.Handler {
	return d.router
}

// Hub returns the daemon's broadcast hub.
func (d *Daemon) Hub() *notify.Hub {
	return d.hub
}

// Ready is closed once the API is accepting connections.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the address the API listens on. It is the resolved
// address once Ready is closed.
func (d *Daemon) Addr() string {
	select {
	case <-d.ready:
		return d.listener.Addr().String()
	default:
		return d.config.Addr
	}
}

// Start begins the daemon's operation.
//
// The daemon will:
//  1. Load the prefix cache
//  2. Start the API, the hub and the ref watcher
//  3. Reload after ref changes, with debouncing
//  4. Sync periodically when an interval is configured
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.store.Load(ctx); err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}

	ln, err := net.Listen("tcp", d.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.config.Addr, err)
	}
	d.listener = ln
	d.server = &http.Server{
		Handler:           d.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if d.config.GitDir != "" {
		w, err := NewRefWatcher(d.config.GitDir, d.config.Branch)
		if err == nil {
			err = w.Start()
		}
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to watch repository: %w", err)
		}
		d.watcher = w
		d.config.Logger.Printf("Watching: %s", d.config.GitDir)

		d.wg.Add(2)
		go d.watchRefEvents()
		go d.processReloads()
	}

	d.hub.Start()

	if d.config.SyncInterval > 0 {
		d.wg.Add(1)
		go d.syncLoop()
	}

	d.wg.Add(1)
	close(d.ready)
	go func() {
		defer d.wg.Done()
		d.config.Logger.Printf("API listening on %s", ln.Addr())
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.config.Logger.Printf("Server error: %v", err)
		}
	}()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	var errs []error
	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Hijacked websocket connections are closed by the hub
		d.hub.Stop()
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	} else {
		d.hub.Stop()
	}

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return errors.Join(errs...)
}

// Reload rebuilds the prefix cache from the committed metadata and tells
// subscribers to refresh.
func (d *Daemon) Reload(ctx context.Context) error {
	if err := d.store.Load(ctx); err != nil {
		return err
	}
	d.hub.Refresh()
	return nil
}

func (d *Daemon) watchRefEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.config.Logger.Printf("Ref event: %s", event.Ref)
			d.queueReload()

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueReload() {
	d.reloadMu.Lock()
	d.reloadAt = time.Now()
	d.reloadMu.Unlock()
}

// processReloads reloads once queued ref changes have settled.
func (d *Daemon) processReloads() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.reloadMu.Lock()
			due := !d.reloadAt.IsZero() && time.Since(d.reloadAt) >= d.config.DebounceInterval
			if due {
				d.reloadAt = time.Time{}
			}
			d.reloadMu.Unlock()

			if due {
				if err := d.Reload(d.ctx); err != nil {
					d.config.Logger.Printf("Error reloading store: %v", err)
				}
			}
		}
	}
}

// syncLoop periodically syncs with the remote.
func (d *Daemon) syncLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if !d.syncOnce() {
				return
			}
		}
	}
}

// syncOnce runs one sync and reports whether the loop should keep going.
func (d *Daemon) syncOnce() bool {
	result, err := d.store.Sync(d.ctx)
	switch {
	case vcs.IsFatal(err):
		d.config.Logger.Printf("Sync disabled: %v", err)
		return false
	case docdb.IsLocked(err):
		d.config.Logger.Printf("Sync skipped: %v", err)
	case errors.Is(err, vcs.ErrNoRemote):
		d.config.Logger.Printf("Sync skipped: no remote configured")
	case err != nil:
		d.config.Logger.Printf("Sync failed: %v", err)
	case len(result.Report.Conflicts) > 0:
		d.config.Logger.Printf("Sync left %d unresolved conflict(s)", len(result.Report.Conflicts))
	}
	return true
}
