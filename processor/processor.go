// Package processor hosts a function graph built from a configuration
// document and invokes it on a fixed cycle.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/vfunc/config"
	"github.com/timzifer/vfunc/formula"
	"github.com/timzifer/vfunc/graph"
	"github.com/timzifer/vfunc/internal/logging"
	"github.com/timzifer/vfunc/internal/reload"
	"github.com/timzifer/vfunc/registry"
	"github.com/timzifer/vfunc/telemetry"
	"github.com/timzifer/vfunc/value"
)

// ReloadFunc represents a function that reloads the processor configuration.
type ReloadFunc func(ctx context.Context) error

// Option configures the processor during construction.
type Option func(*settings) error

type kindDefinition struct {
	name    string
	factory graph.Factory
}

type settings struct {
	config            *config.Config
	configPath        string
	registerReload    func(ReloadFunc)
	logger            zerolog.Logger
	customLogger      bool
	telemetry         telemetry.Collector
	telemetryProvided bool
	registry          *registry.Registry
	kinds             []kindDefinition
	ambient           []value.Variable
}

// Processor owns the current graph and rebuilds it when the configuration
// changes.
type Processor struct {
	mu sync.Mutex

	config     *config.Config
	configPath string

	collector telemetry.Collector
	metrics   *metricsServer
	registry  *registry.Registry
	kinds     *graph.Kinds
	ambient   []value.Variable

	customLogger bool
	baseLogger   zerolog.Logger

	watcher  *reload.Watcher
	reloadCh chan reloadRequest

	current *runtimeState
	running bool
}

type runtimeState struct {
	cfg     *config.Config
	logger  zerolog.Logger
	cleanup func()
	graph   *graph.Graph
}

type reloadRequest struct {
	done chan error
}

// New constructs a processor with the supplied options.
func New(ctx context.Context, opts ...Option) (*Processor, error) {
	if ctx != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	cfg := settings{
		logger:    zerolog.Nop(),
		telemetry: telemetry.Noop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		if cfg.configPath == "" {
			return nil, errors.New("configuration path required")
		}
		loaded, err := config.Load(cfg.configPath)
		if err != nil {
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		cfg.config = loaded
	}

	if cfg.registry == nil {
		cfg.registry = registry.New()
		if err := RegisterDefaultTypes(cfg.registry); err != nil {
			return nil, fmt.Errorf("register default types: %w", err)
		}
	}

	kinds := graph.DefaultKinds()
	for _, def := range cfg.kinds {
		if err := kinds.Register(def.name, def.factory); err != nil {
			return nil, err
		}
	}

	if !cfg.telemetryProvided {
		collector, err := newTelemetryCollector(cfg.config.Telemetry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
			cfg.telemetry = telemetry.Noop()
		} else {
			cfg.telemetry = collector
		}
	}

	proc := &Processor{
		config:       cfg.config,
		configPath:   cfg.configPath,
		collector:    cfg.telemetry,
		registry:     cfg.registry,
		kinds:        kinds,
		ambient:      cfg.ambient,
		customLogger: cfg.customLogger,
		baseLogger:   cfg.logger,
	}

	runtime, err := proc.buildRuntime(cfg.config)
	if err != nil {
		return nil, err
	}
	proc.current = runtime
	if !cfg.telemetryProvided {
		proc.metrics = startMetricsServer(cfg.config.Telemetry, runtime.logger)
	}

	if cfg.configPath != "" {
		proc.reloadCh = make(chan reloadRequest)
	}
	proc.initWatcher(cfg.config)

	if cfg.registerReload != nil {
		cfg.registerReload(proc.Reload)
	}

	return proc, nil
}

// RunOnce invokes the graph a single time and reports whether the root list
// ran to completion.
func (p *Processor) RunOnce(ctx context.Context) (bool, error) {
	if ctx != nil && ctx.Err() != nil {
		return false, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return false, errors.New("processor not initialized")
	}
	return p.current.graph.Invoke(p.ambient)
}

// Run invokes the graph every cycle until the context is cancelled. With hot
// reload enabled, changed configuration files replace the graph between
// cycles. Failed cycles are logged and do not stop the loop.
func (p *Processor) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return errors.New("processor not initialized")
	}
	if p.running {
		p.mu.Unlock()
		return errors.New("processor already running")
	}
	p.running = true
	cfg := p.config
	reloadCh := p.reloadCh
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	cycle := time.NewTicker(cfg.CycleInterval())
	defer cycle.Stop()
	check, stopCheck := p.checkTicker(cfg)
	defer func() { stopCheck() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cycle.C:
			// Invoke already logs failures.
			_, _ = p.RunOnce(ctx)
		case req := <-reloadCh:
			err := p.reloadFromDisk(nil)
			req.done <- err
			if err == nil {
				cycle.Reset(p.Config().CycleInterval())
				stopCheck()
				check, stopCheck = p.checkTicker(p.Config())
			}
		case <-check:
			p.mu.Lock()
			watcher := p.watcher
			p.mu.Unlock()
			changes := watcher.Check()
			if len(changes) == 0 {
				continue
			}
			if err := p.reloadFromDisk(changes); err != nil {
				p.logger().Error().Err(err).Strs("files", changes).Msg("failed to reload configuration")
				continue
			}
			cycle.Reset(p.Config().CycleInterval())
			stopCheck()
			check, stopCheck = p.checkTicker(p.Config())
		}
	}
}

func (p *Processor) checkTicker(cfg *config.Config) (<-chan time.Time, func()) {
	p.mu.Lock()
	watcher := p.watcher
	p.mu.Unlock()
	if watcher == nil {
		return nil, func() {}
	}
	ticker := time.NewTicker(cfg.ReloadCheckInterval())
	return ticker.C, ticker.Stop
}

// Reload rebuilds the graph using the latest configuration from disk.
func (p *Processor) Reload(ctx context.Context) error {
	p.mu.Lock()
	running := p.running
	reloadCh := p.reloadCh
	p.mu.Unlock()

	if reloadCh == nil {
		return errors.New("reload not supported without configuration path")
	}
	if !running {
		return p.reloadFromDisk(nil)
	}

	req := reloadRequest{done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case reloadCh <- req:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-req.done:
		return err
	}
}

// Config returns the configuration of the current graph.
func (p *Processor) Config() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

// Graph returns the current graph. The graph is replaced on reload and must
// not be edited while Run is active.
func (p *Processor) Graph() *graph.Graph {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current.graph
}

// Globals returns the payloads of the root globals by name.
func (p *Processor) Globals() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	globals := p.current.graph.Globals()
	out := make(map[string]any, len(globals))
	for _, f := range globals {
		out[f.Name()] = value.Payload(f.Value())
	}
	return out
}

// Close releases resources managed by the processor.
func (p *Processor) Close() {
	p.mu.Lock()
	current := p.current
	p.current = nil
	metrics := p.metrics
	p.metrics = nil
	p.mu.Unlock()

	if current != nil {
		current.cleanup()
	}
	metrics.Close()
}

func (p *Processor) logger() *zerolog.Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return &p.baseLogger
	}
	return &p.current.logger
}

// reloadFromDisk loads and builds the configuration before swapping, so a
// broken document leaves the running graph untouched.
func (p *Processor) reloadFromDisk(files []string) error {
	cfg, err := p.loadConfig()
	if err != nil {
		return err
	}
	runtime, err := p.buildRuntime(cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.current
	p.current = runtime
	p.config = cfg
	p.initWatcher(cfg)
	p.mu.Unlock()

	if old != nil {
		old.cleanup()
	}
	if len(files) == 0 {
		files = []string{p.configPath}
	}
	for _, file := range files {
		p.collector.IncHotReload(file)
	}
	runtime.logger.Info().Strs("files", files).Int("nodes", runtime.graph.Len()).Msg("configuration reloaded")
	return nil
}

func (p *Processor) buildRuntime(cfg *config.Config) (*runtimeState, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	runtime := &runtimeState{cfg: cfg, cleanup: func() {}}
	if p.customLogger {
		runtime.logger = p.baseLogger
	} else {
		logger, cleanup, err := logging.Setup(cfg.Logging)
		if err != nil {
			return nil, err
		}
		runtime.logger = logger
		runtime.cleanup = cleanup
		log.Logger = runtime.logger
	}

	shadowing, err := formula.ParseShadowing(cfg.Engine.Shadowing)
	if err != nil {
		runtime.cleanup()
		return nil, err
	}
	engine := formula.NewEngine(p.registry,
		formula.WithLogger(runtime.logger),
		formula.WithTelemetry(p.collector),
		formula.WithShadowing(shadowing),
		formula.WithMaxCallDepth(cfg.Engine.MaxCallDepth),
	)
	session := graph.NewSession(engine,
		graph.WithLogger(runtime.logger),
		graph.WithTelemetry(p.collector),
	)
	g, err := Build(cfg, session, p.kinds)
	if err != nil {
		runtime.cleanup()
		return nil, fmt.Errorf("build graph: %w", err)
	}
	runtime.graph = g
	runtime.logger.Debug().Str("component", "processor").Str("name", cfg.Name).Int("nodes", g.Len()).Msg("graph built")
	return runtime, nil
}

func (p *Processor) loadConfig() (*config.Config, error) {
	if p.configPath == "" {
		return nil, errors.New("configuration path not configured")
	}
	return config.Load(p.configPath)
}

func (p *Processor) initWatcher(cfg *config.Config) {
	if p.configPath == "" || !cfg.HotReload {
		p.watcher = nil
		return
	}
	if p.watcher == nil {
		p.watcher = reload.NewWatcher(p.configPath, cfg)
		return
	}
	p.watcher.Update(p.configPath, cfg)
}
