// Package syncer decides where reads and writes go for the current owner,
// keeps the in-memory view of their records, and reconciles it with pushed
// changes, the offline cache and the pending write ledger.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sadopc/blockr/internal/cache"
	"github.com/sadopc/blockr/internal/guest"
	"github.com/sadopc/blockr/internal/model"
	"github.com/sadopc/blockr/internal/remote"
	"github.com/sadopc/blockr/internal/retry"
)

var (
	ErrDataUnavailable = errors.New("data unavailable: service unreachable and nothing cached")
	ErrQueuedOffline   = errors.New("saved locally, will sync when reconnected")
	ErrNotFound        = errors.New("time block not found")
	ErrNoOwner         = errors.New("no owner signed in")
	ErrClosed          = errors.New("coordinator closed")
	ErrSuperseded      = errors.New("owner changed before the result arrived")
	ErrNothingToUndo   = errors.New("nothing to undo")
)

type DataStatus int

const (
	DataUnknown DataStatus = iota
	DataFresh
	DataStale
	DataUnavailable
)

func (s DataStatus) String() string {
	switch s {
	case DataFresh:
		return "fresh"
	case DataStale:
		return "stale"
	case DataUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

type Status struct {
	Mode     model.OwnerMode
	Owner    string
	Data     DataStatus
	Online   bool
	Pending  int
	LastSync time.Time
}

// RealtimeFunc opens a push channel for ownerID and returns its stop func.
type RealtimeFunc func(ctx context.Context, ownerID string, h remote.Handlers) (stop func(), err error)

// SubscriberRealtime adapts a remote.Subscriber.
func SubscriberRealtime(s *remote.Subscriber) RealtimeFunc {
	return func(ctx context.Context, ownerID string, h remote.Handlers) (func(), error) {
		sub, err := s.Subscribe(ctx, ownerID, h)
		if err != nil {
			return nil, err
		}
		return sub.Close, nil
	}
}

// KV holds the coordinator's own bookkeeping keys.
type KV interface {
	GetJSON(key string, v any) (bool, error)
	SetJSON(key string, v any) error
	Delete(key string) error
}

type Deps struct {
	Remote   remote.Service
	Realtime RealtimeFunc
	Cache    *cache.Cache
	Guest    *guest.Store
	KV       KV
	Logger   zerolog.Logger
	Now      func() time.Time
}

type Options struct {
	Retry       retry.Config
	CacheMaxAge time.Duration
}

func DefaultOptions() Options {
	return Options{Retry: retry.DefaultConfig(), CacheMaxAge: cache.DefaultMaxAge}
}

type Coordinator struct {
	deps Deps
	opts Options
	log  zerolog.Logger
	now  func() time.Time

	mu       sync.Mutex
	gen      uint64
	mode     model.OwnerMode
	owner    string
	blocks   map[string]model.TimeBlock
	stats    map[string]model.PomodoroStat
	prefs    model.Preferences
	data     DataStatus
	online   bool
	lastSync time.Time
	stopRT   func()

	listenMu  sync.Mutex
	listeners map[int]func()
	nextID    int

	flushMu sync.Mutex
	closed  atomic.Bool
}

func New(deps Deps, opts Options) *Coordinator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if opts.CacheMaxAge <= 0 {
		opts.CacheMaxAge = cache.DefaultMaxAge
	}
	return &Coordinator{
		deps:      deps,
		opts:      opts,
		log:       deps.Logger.With().Str("component", "syncer").Logger(),
		now:       deps.Now,
		blocks:    make(map[string]model.TimeBlock),
		stats:     make(map[string]model.PomodoroStat),
		prefs:     model.DefaultPreferences(),
		listeners: make(map[int]func()),
	}
}

// session captures who the coordinator was serving when an async call
// started, so late results for a previous owner can be dropped.
type session struct {
	gen   uint64
	mode  model.OwnerMode
	owner string
}

func (c *Coordinator) current() session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return session{gen: c.gen, mode: c.mode, owner: c.owner}
}

// live reports whether results for s may still be applied. Callers hold c.mu.
func (c *Coordinator) liveLocked(s session) bool {
	return !c.closed.Load() && c.gen == s.gen
}

// SetMode switches the owner whose records are shown. Guest reads the local
// store, Authenticated loads from the service and opens the push channel,
// Unauthenticated clears everything without any I/O.
func (c *Coordinator) SetMode(ctx context.Context, mode model.OwnerMode, ownerID string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	owner := ownerID
	switch mode {
	case model.Authenticated:
		if ownerID == "" {
			return ErrNoOwner
		}
	case model.Guest:
		owner = c.deps.Guest.GuestID()
	default:
		owner = ""
	}

	c.mu.Lock()
	stop := c.stopRT
	c.stopRT = nil
	c.gen++
	c.mode = mode
	c.owner = owner
	c.blocks = make(map[string]model.TimeBlock)
	c.stats = make(map[string]model.PomodoroStat)
	c.prefs = model.DefaultPreferences()
	c.data = DataUnknown
	c.online = false
	c.lastSync = time.Time{}
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.log.Info().Str("mode", mode.String()).Str("owner", owner).Msg("owner changed")

	switch mode {
	case model.Guest:
		_, err := c.Load(ctx)
		return err
	case model.Authenticated:
		c.subscribe(c.current())
		_, err := c.Load(ctx)
		return err
	}

	c.notify()
	return nil
}

// Blocks returns the blocks scheduled on date, ordered by time.
func (c *Coordinator) Blocks(date string) []model.TimeBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedBlocks(c.blocks, date)
}

func (c *Coordinator) AllBlocks() []model.TimeBlock {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedBlocks(c.blocks, "")
}

// Block returns the block with id.
func (c *Coordinator) Block(id string) (model.TimeBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocks[id]
	return b, ok
}

// Stats returns one record per date, oldest first.
func (c *Coordinator) Stats() []model.PomodoroStat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedStats(c.stats)
}

func (c *Coordinator) Preferences() model.Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		Mode:     c.mode,
		Owner:    c.owner,
		Data:     c.data,
		Online:   c.online,
		LastSync: c.lastSync,
	}
	c.mu.Unlock()
	if st.Mode == model.Authenticated {
		st.Pending = len(c.deps.Cache.PendingFor(st.Owner))
	}
	return st
}

// Subscribe registers fn to run after every state change. The returned func
// unregisters it.
func (c *Coordinator) Subscribe(fn func()) func() {
	c.listenMu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.listenMu.Unlock()

	return func() {
		c.listenMu.Lock()
		delete(c.listeners, id)
		c.listenMu.Unlock()
	}
}

func (c *Coordinator) notify() {
	if c.closed.Load() {
		return
	}
	c.listenMu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Close stops the push channel and makes every later result a no-op.
// Remote calls already in flight are left to finish.
func (c *Coordinator) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	stop := c.stopRT
	c.stopRT = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}

	c.listenMu.Lock()
	c.listeners = make(map[int]func())
	c.listenMu.Unlock()
}

// retryConfig returns the configured policy with attempt logging for op.
func (c *Coordinator) retryConfig(op string) retry.Config {
	cfg := c.opts.Retry
	next := cfg.OnRetry
	cfg.OnRetry = func(info retry.Info) {
		c.log.Warn().Err(info.Err).
			Str("op", op).
			Int("attempt", info.Attempt).
			Int("max_retries", info.MaxRetries).
			Dur("delay", info.Delay).
			Msg("retrying remote call")
		if next != nil {
			next(info)
		}
	}
	return cfg
}

func (c *Coordinator) retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if c.opts.Retry.RetryIf != nil {
		return c.opts.Retry.RetryIf(err)
	}
	return retry.IsRetryable(err)
}

// dropped is the error returned when a late result is discarded.
func (c *Coordinator) dropped() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return ErrSuperseded
}

func (c *Coordinator) setOnline(s session, online bool) {
	c.mu.Lock()
	changed := false
	if c.liveLocked(s) && c.online != online {
		c.online = online
		changed = true
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Coordinator) requireOwner() (session, error) {
	if c.closed.Load() {
		return session{}, ErrClosed
	}
	s := c.current()
	if s.mode == model.Unauthenticated || s.owner == "" {
		return s, ErrNoOwner
	}
	return s, nil
}

func (c *Coordinator) snapshotCacheLocked() {
	if c.mode != model.Authenticated {
		return
	}
	c.deps.Cache.CacheBlocks(c.owner, sortedBlocks(c.blocks, ""))
}

func sortedStats(m map[string]model.PomodoroStat) []model.PomodoroStat {
	out := make([]model.PomodoroStat, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func (c *Coordinator) today() string {
	return c.now().Format(model.DateLayout)
}

func wrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}
