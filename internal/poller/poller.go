// Package poller drives periodic snapshot acquisition for all active
// accounts and feeds each (previous, current) pair into the correlation
// pipeline.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/jwo-labs/vaultwatch/internal/engine"
	"github.com/jwo-labs/vaultwatch/internal/models"
)

// SnapshotSource fetches the current position set for one account.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, address string) (*models.PositionSnapshot, error)
}

// AccountStore lists tracked accounts and records per-account poll health.
type AccountStore interface {
	ListAccounts() ([]*models.TrackedAccount, error)
	UpdateAccountHealth(address string, lastChecked time.Time, consecutiveFailures int) error
}

// GroupHandler receives every correlation group the pipeline emits.
type GroupHandler func(*models.CorrelationGroup)

// HealthNotifier is told about poll health transitions: the first failure
// of a consecutive sequence and the recovery that ends it.
type HealthNotifier interface {
	PollFailed(account string, err error)
	PollRecovered(account string, failureCount int)
}

// Options tune the polling loop.
type Options struct {
	Interval      time.Duration // time between cycles
	FetchTimeout  time.Duration // per-account snapshot fetch budget
	MaxConcurrent int64         // fan-out bound across accounts
	RebaselineAge time.Duration // gap after which the next snapshot re-baselines silently; 0 disables
}

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateStopping
)

// baseline is the per-account diffing state. Its mutex serializes diff
// cycles for one account; an account still mid-fetch is skipped by the next
// cycle rather than diffed twice.
type baseline struct {
	mu       sync.Mutex
	snapshot *models.PositionSnapshot
	goodAt   time.Time
	failures int
}

// Coordinator owns the poll loop lifecycle: Idle → Running → Stopping → Idle.
type Coordinator struct {
	source   SnapshotSource
	accounts AccountStore
	pipeline *engine.Pipeline
	onGroup  GroupHandler
	notifier HealthNotifier
	opts     Options

	mu        sync.Mutex
	state     lifecycle
	cancel    context.CancelFunc
	done      chan struct{}
	baselines map[string]*baseline
}

// New builds a coordinator. onGroup may be nil when emitted groups need no
// delivery (tests).
func New(source SnapshotSource, accounts AccountStore, pipeline *engine.Pipeline, onGroup GroupHandler, opts Options) *Coordinator {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 5
	}
	return &Coordinator{
		source:    source,
		accounts:  accounts,
		pipeline:  pipeline,
		onGroup:   onGroup,
		opts:      opts,
		baselines: make(map[string]*baseline),
	}
}

// SetNotifier installs a health notifier. Call before Start.
func (c *Coordinator) SetNotifier(n HealthNotifier) {
	c.notifier = n
}

// Start launches the poll loop. Calling Start on an already-running
// coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateIdle {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = stateRunning
	go c.run(runCtx)
	log.Info().Dur("interval", c.opts.Interval).Int64("max_concurrent", c.opts.MaxConcurrent).Msg("poller started")
}

// Stop requests shutdown and blocks until the in-flight cycle finishes.
// Idempotent; Stop on an idle coordinator returns immediately.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	switch c.state {
	case stateIdle:
		c.mu.Unlock()
		return
	case stateRunning:
		c.state = stateStopping
		c.cancel()
	}
	done := c.done
	c.mu.Unlock()

	<-done

	c.mu.Lock()
	c.state = stateIdle
	c.mu.Unlock()
	log.Info().Msg("poller stopped")
}

// Running reports whether the loop is active.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateRunning
}

// run executes cycles until cancelled. Cancellation is cooperative at cycle
// boundaries: a cycle that has started runs to completion so an account's
// baseline is either fully advanced or untouched.
func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()

	c.cycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cycle()
		}
	}
}

// Cycle runs one full poll pass synchronously. Exported for operator-driven
// immediate refresh.
func (c *Coordinator) Cycle() {
	c.cycle()
}

func (c *Coordinator) cycle() {
	started := time.Now()
	accounts, err := c.accounts.ListAccounts()
	if err != nil {
		log.Error().Err(err).Msg("failed to list accounts, skipping cycle")
		return
	}

	var active []*models.TrackedAccount
	for _, a := range accounts {
		if a.Active {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		log.Debug().Msg("no active accounts to poll")
		return
	}

	sem := semaphore.NewWeighted(c.opts.MaxConcurrent)
	var wg sync.WaitGroup
	for _, account := range active {
		// Fetches outlive loop cancellation on purpose: a cycle either
		// fully advances an account's baseline or leaves it untouched.
		if err := sem.Acquire(context.Background(), 1); err != nil {
			break
		}
		wg.Add(1)
		go func(a *models.TrackedAccount) {
			defer wg.Done()
			defer sem.Release(1)
			c.pollAccount(a)
		}(account)
	}
	wg.Wait()

	c.pipeline.Sweep()
	log.Debug().Int("accounts", len(active)).Dur("took", time.Since(started)).Msg("poll cycle completed")
}

func (c *Coordinator) pollAccount(account *models.TrackedAccount) {
	b := c.baselineFor(account.Address)
	if !b.mu.TryLock() {
		log.Warn().Str("account", account.Name).Msg("previous cycle still in flight, skipping")
		return
	}
	defer b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.FetchTimeout)
	defer cancel()

	snap, err := c.source.FetchSnapshot(ctx, account.Address)
	if err != nil {
		b.failures++
		log.Warn().Err(err).Str("account", account.Name).Int("consecutive_failures", b.failures).
			Msg("snapshot fetch failed, baseline unchanged")
		c.recordHealth(account.Address, b.failures)
		if b.failures == 1 && c.notifier != nil {
			c.notifier.PollFailed(account.Name, err)
		}
		return
	}

	prev := b.snapshot
	if prev != nil && c.opts.RebaselineAge > 0 && time.Since(b.goodAt) > c.opts.RebaselineAge {
		// The account went dark long enough that diffing against the stale
		// baseline would report phantom catch-up trades.
		log.Info().Str("account", account.Name).Time("last_good", b.goodAt).
			Msg("baseline too old, re-baselining without events")
		prev = nil
	}

	groups := c.pipeline.Ingest(account, prev, snap)

	if b.failures > 0 && c.notifier != nil {
		c.notifier.PollRecovered(account.Name, b.failures)
	}
	b.snapshot = snap
	b.goodAt = time.Now()
	b.failures = 0
	c.recordHealth(account.Address, 0)

	if c.onGroup != nil {
		for _, g := range groups {
			c.onGroup(g)
		}
	}
}

func (c *Coordinator) baselineFor(address string) *baseline {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.baselines[address]
	if b == nil {
		b = &baseline{}
		c.baselines[address] = b
	}
	return b
}

func (c *Coordinator) recordHealth(address string, failures int) {
	if err := c.accounts.UpdateAccountHealth(address, time.Now(), failures); err != nil {
		log.Warn().Err(err).Str("account", address).Msg("failed to record account health")
	}
}
