package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/entgraph/discovery/internal/apply"
	"github.com/entgraph/discovery/pkg/graph"
	"github.com/entgraph/discovery/pkg/logger"
	"github.com/entgraph/discovery/pkg/provider"
	"github.com/entgraph/discovery/pkg/reconcile"
)

const (
	// defaultSplay spaces out initial provider runs so all sources do not
	// hit their upstream APIs at the same instant.
	defaultSplay = 2 * time.Second

	defaultOneshotParallelism = 4
)

// Lease extends per-provider run exclusion across replicas. Implementations
// must be safe for concurrent use; a nil Lease means process-local exclusion
// only.
type Lease interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool)
}

// PassSummary describes one completed reconciliation pass.
type PassSummary struct {
	Provider    string        `json:"provider"`
	Result      apply.Result  `json:"result"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// PassPublisher receives pass summaries, e.g. for a message queue. Optional.
type PassPublisher interface {
	PublishPassSummary(ctx context.Context, summary PassSummary) error
}

// Params configures an Orchestrator.
type Params struct {
	Client    *graph.Client
	Providers []provider.Provider

	// Applier, Lister and Strategy default to the production
	// implementations over Client; tests swap them out.
	Applier  Applier
	Lister   EntityLister
	Strategy reconcile.Strategy

	Lease  Lease
	Events PassPublisher

	Splay              time.Duration
	OneshotParallelism int
}

// Orchestrator owns one worker per provider instance and runs each on its
// own cadence. Workers share only the graph client; a provider's failures
// never reach another provider or the orchestrator itself.
type Orchestrator struct {
	client   *graph.Client
	applier  Applier
	lister   EntityLister
	strategy reconcile.Strategy
	lease    Lease
	events   PassPublisher

	splay              time.Duration
	oneshotParallelism int

	mu        sync.Mutex
	providers []provider.Provider
	cancel    context.CancelFunc
	runCtx    context.Context
	wg        sync.WaitGroup

	locksMu  sync.Mutex
	runLocks map[string]*sync.Mutex
}

// New builds an orchestrator. The provider list is the result of config
// loading; fatally misconfigured providers must already be filtered out.
func New(params Params) *Orchestrator {
	o := &Orchestrator{
		client:             params.Client,
		applier:            params.Applier,
		lister:             params.Lister,
		strategy:           params.Strategy,
		lease:              params.Lease,
		events:             params.Events,
		splay:              params.Splay,
		oneshotParallelism: params.OneshotParallelism,
		providers:          params.Providers,
		runLocks:           map[string]*sync.Mutex{},
	}
	if o.applier == nil {
		o.applier = apply.New(params.Client)
	}
	if o.lister == nil {
		o.lister = params.Client
	}
	if o.strategy == nil {
		o.strategy = reconcile.NewFullState()
	}
	if o.splay <= 0 {
		o.splay = defaultSplay
	}
	if o.oneshotParallelism <= 0 {
		o.oneshotParallelism = defaultOneshotParallelism
	}
	for _, p := range o.providers {
		o.runLocks[p.Name()] = &sync.Mutex{}
	}
	return o
}

// Providers returns a snapshot of the scheduled providers.
func (o *Orchestrator) Providers() []provider.Provider {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]provider.Provider, len(o.providers))
	copy(out, o.providers)
	return out
}

// RegisterDefinitions registers every provider's schemas with the graph.
// Failures are not fatal: missing definitions are retried on demand when a
// bulk create hits a 404.
func (o *Orchestrator) RegisterDefinitions(ctx context.Context) {
	for _, p := range o.Providers() {
		for _, def := range p.Definitions() {
			created, err := o.client.CreateDefinition(ctx, def)
			if err != nil {
				logger.Warn("failed to register definition at startup",
					"provider", p.Name(),
					"kind", def.Kind,
					"err", err,
				)
				continue
			}
			if created {
				logger.Info("registered definition", "provider", p.Name(), "kind", def.Kind)
			}
		}
	}
}

// Run schedules every provider on its own interval and blocks until ctx is
// cancelled. In-flight passes finish before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.runCtx, o.cancel = context.WithCancel(ctx)
	o.startWorkersLocked()
	o.mu.Unlock()

	<-ctx.Done()

	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	o.runCtx = nil
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.wg.Wait()

	logger.Info("scheduler stopped")
	return ctx.Err()
}

// startWorkersLocked launches one goroutine per provider. Callers hold o.mu.
func (o *Orchestrator) startWorkersLocked() {
	for i, p := range o.providers {
		o.wg.Add(1)
		go o.worker(o.runCtx, p, i)
	}
}

func (o *Orchestrator) worker(ctx context.Context, p provider.Provider, index int) {
	defer o.wg.Done()

	splay := time.Duration(index) * o.splay
	logger.Info("scheduling provider",
		"provider", p.Name(),
		"interval", p.Interval(),
		"initial_delay", splay,
	)

	timer := time.NewTimer(splay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	o.runGuarded(ctx, p)

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runGuarded(ctx, p)
		}
	}
}

// runGuarded runs one pass under the provider's mutual exclusion. A pass
// still running when the next tick fires makes the tick a no-op.
func (o *Orchestrator) runGuarded(ctx context.Context, p provider.Provider) {
	o.locksMu.Lock()
	lock, ok := o.runLocks[p.Name()]
	if !ok {
		lock = &sync.Mutex{}
		o.runLocks[p.Name()] = lock
	}
	o.locksMu.Unlock()

	if !lock.TryLock() {
		logger.Warn("previous pass still running, skipping tick", "provider", p.Name())
		return
	}
	defer lock.Unlock()

	if o.lease != nil {
		release, acquired := o.lease.TryAcquire(ctx, "discovery:"+p.Name())
		if !acquired {
			logger.Info("another replica holds the lease, skipping", "provider", p.Name())
			return
		}
		defer release()
	}

	start := time.Now()
	result := o.runPass(ctx, p)

	if o.events != nil {
		summary := PassSummary{
			Provider:    p.Name(),
			Result:      result,
			Duration:    time.Since(start),
			CompletedAt: time.Now().UTC(),
		}
		if err := o.events.PublishPassSummary(ctx, summary); err != nil {
			logger.Warn("failed to publish pass summary", "provider", p.Name(), "err", err)
		}
	}
}

// RunOnce runs every provider exactly once with bounded parallelism and
// returns when all passes have finished. Used for cron-style invocation.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.oneshotParallelism)

	for _, p := range o.Providers() {
		g.Go(func() error {
			logger.Info("running oneshot provider", "provider", p.Name())
			o.runGuarded(ctx, p)
			return nil
		})
	}
	return g.Wait()
}

// RunProvider triggers one immediate pass for a provider by name.
func (o *Orchestrator) RunProvider(ctx context.Context, name string) error {
	for _, p := range o.Providers() {
		if p.Name() == name {
			o.runGuarded(ctx, p)
			return nil
		}
	}
	return fmt.Errorf("no provider named %q", name)
}

// Reload swaps in a freshly loaded provider list. It reschedules only when
// the set of provider names actually changed and reports whether it did.
func (o *Orchestrator) Reload(newProviders []provider.Provider) bool {
	o.mu.Lock()

	oldNames := map[string]struct{}{}
	for _, p := range o.providers {
		oldNames[p.Name()] = struct{}{}
	}
	newNames := map[string]struct{}{}
	for _, p := range newProviders {
		newNames[p.Name()] = struct{}{}
	}

	var added, removed []string
	for name := range newNames {
		if _, ok := oldNames[name]; !ok {
			added = append(added, name)
		}
	}
	for name := range oldNames {
		if _, ok := newNames[name]; !ok {
			removed = append(removed, name)
		}
	}

	if len(added) == 0 && len(removed) == 0 {
		o.mu.Unlock()
		logger.Debug("no provider configuration changes detected")
		return false
	}

	logger.Info("provider configuration changed",
		"added", added,
		"removed", removed,
	)

	o.providers = newProviders
	cancel := o.cancel
	o.mu.Unlock()

	o.locksMu.Lock()
	for _, p := range newProviders {
		if _, ok := o.runLocks[p.Name()]; !ok {
			o.runLocks[p.Name()] = &sync.Mutex{}
		}
	}
	o.locksMu.Unlock()

	// Restart workers when the scheduler loop is live. Shutdown stays
	// wired through Run, which re-reads o.cancel when its context ends.
	if cancel != nil {
		cancel()
		o.wg.Wait()

		o.mu.Lock()
		if o.cancel != nil {
			o.runCtx, o.cancel = context.WithCancel(context.Background())
			o.startWorkersLocked()
		}
		o.mu.Unlock()
	}
	return true
}
