// Package controller owns the connection to the relay network: it queries
// the directory, keeps the relay roster, launches and watches the local
// relay and client processes, retries with backoff, and dispatches
// resource loads through the client.
//
// All mutable state lives on the goroutine running Run. Public methods post
// intents to that goroutine and wait for the reply; readers use Snapshot.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/npratt/hopctl/internal/backoff"
	"github.com/npratt/hopctl/internal/config"
	"github.com/npratt/hopctl/internal/directory"
	"github.com/npratt/hopctl/internal/events"
	"github.com/npratt/hopctl/internal/history"
	"github.com/npratt/hopctl/internal/roster"
	"github.com/npratt/hopctl/internal/runner"
)

// State represents the connection state.
type State string

// Connection states.
const (
	StateNotConnected State = "not_connected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var (
	// ErrDirectoryUnavailable marks a failed directory query.
	ErrDirectoryUnavailable = directory.ErrUnavailable
	// ErrProcessSpawn marks a process that could not be started.
	ErrProcessSpawn = errors.New("process spawn failed")

	ErrNotConnected      = errors.New("not connected to the network")
	ErrAlreadyConnecting = errors.New("already connecting")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrInvalidNodeCount  = errors.New("node count must be at least 1")
	ErrStopped           = errors.New("controller stopped")
)

// DefaultTickInterval is the backoff countdown step in real time.
const DefaultTickInterval = time.Second

// Option configures a Controller.
type Option func(*Controller)

// WithTickInterval changes how often the backoff countdown advances.
// Each tick still counts as one backoff.Step.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// WithClock sets the time source used for roster timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller drives the connection state machine.
type Controller struct {
	cfg    *config.Config
	runner runner.ProcessRunner
	router *events.Router
	logger *slog.Logger

	query      *directory.Query
	relayCmd   config.Command
	clientCmd  *config.Command
	fetchCmd   config.Command
	relayReady *regexp.Regexp
	clientRdy  *regexp.Regexp

	tickInterval time.Duration
	now          func() time.Time

	intents    chan intent
	procEvents chan procEvent
	updates    chan struct{}
	stopCh     chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
	running    atomic.Bool
	snap       atomic.Pointer[Snapshot]

	// Owned by the Run goroutine.
	ctx          context.Context
	state        State
	backoff      *backoff.Scheduler
	roster       roster.Roster
	seeded       bool
	history      *history.History
	nodeCount    int
	lastFailure  string
	attempts     int
	nextID       int
	procs        map[int]*tracked
	lookup       *queryRun
	participants []*tracked
	pending      int
	readyTimer   *time.Timer
	readyC       <-chan time.Time
	pollTicker   *time.Ticker
	pollC        <-chan time.Time
	fetch        *fetchRun
	page         *Page
	loadErr      string
	lastStatus   string
}

type intent struct {
	fn    func() (string, error)
	reply chan reply
}

type reply struct {
	value string
	err   error
}

// New creates a Controller. It does nothing until Run is called.
func New(cfg *config.Config, r runner.ProcessRunner, router *events.Router, logger *slog.Logger, opts ...Option) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}

	query, err := directory.NewQuery(cfg)
	if err != nil {
		return nil, err
	}
	relayCmd, err := config.ParseCommand(cfg.Relay.Command)
	if err != nil {
		return nil, fmt.Errorf("relay command: %w", err)
	}
	fetchCmd, err := config.ParseCommand(cfg.Client.FetchCommand)
	if err != nil {
		return nil, fmt.Errorf("client fetch command: %w", err)
	}
	var clientCmd *config.Command
	if cfg.Client.Command != "" {
		cmd, err := config.ParseCommand(cfg.Client.Command)
		if err != nil {
			return nil, fmt.Errorf("client command: %w", err)
		}
		clientCmd = &cmd
	}
	relayReady, err := regexp.Compile(cfg.Relay.ReadyPattern)
	if err != nil {
		return nil, fmt.Errorf("relay ready pattern: %w", err)
	}
	clientReady, err := regexp.Compile(cfg.Client.ReadyPattern)
	if err != nil {
		return nil, fmt.Errorf("client ready pattern: %w", err)
	}

	policy := history.AppendAlways
	if cfg.History.SuppressDuplicates {
		policy = history.SuppressDuplicates
	}

	c := &Controller{
		cfg:          cfg,
		runner:       r,
		router:       router,
		logger:       logger,
		query:        query,
		relayCmd:     relayCmd,
		clientCmd:    clientCmd,
		fetchCmd:     fetchCmd,
		relayReady:   relayReady,
		clientRdy:    clientReady,
		tickInterval: DefaultTickInterval,
		now:          time.Now,
		intents:      make(chan intent),
		procEvents:   make(chan procEvent, 64),
		updates:      make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		ctx:          context.Background(),
		state:        StateNotConnected,
		backoff:      backoff.New(cfg.Backoff.Initial, cfg.Backoff.Max),
		history:      history.New(policy),
		nodeCount:    cfg.Relay.Count,
		procs:        make(map[int]*tracked),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.publish()
	return c, nil
}

// Run executes the control loop. It blocks until the context is cancelled
// or Stop is called, and stops every process it started before returning.
// Returns nil on clean shutdown.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller already running")
	}
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.ctx = ctx

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	c.emit(&events.NetworkStartEvent{
		BaseEvent: events.NewControllerEvent(events.EventNetworkStart),
		WorkDir:   c.cfg.WorkDir,
		NodeCount: c.nodeCount,
	})
	c.logger.Info("controller started", "nodes", c.nodeCount, "directory", c.query.String())

	for {
		select {
		case <-ctx.Done():
			return c.shutdown("context cancelled")
		case <-c.stopCh:
			return c.shutdown("stop requested")
		case in := <-c.intents:
			v, err := in.fn()
			// Callers see their change in Snapshot as soon as they return.
			c.publish()
			in.reply <- reply{value: v, err: err}
			continue
		case pe := <-c.procEvents:
			c.handleProcEvent(pe)
		case <-ticker.C:
			c.onTick()
		case <-c.pollC:
			c.onPoll()
		case <-c.readyC:
			c.onReadyTimeout()
		}
		c.publish()
	}
}

// shutdown stops every process and publishes the final snapshot.
func (c *Controller) shutdown(reason string) error {
	c.logger.Info("shutting down", "reason", reason)

	c.stopAll()
	if c.state != StateNotConnected {
		c.setState(StateNotConnected)
	}
	c.publish()

	c.emit(&events.NetworkStopEvent{
		BaseEvent: events.NewControllerEvent(events.EventNetworkStop),
		Reason:    reason,
	})
	return nil
}

// Stop requests the control loop to exit. It does not wait.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// StartProxy begins connecting to the network.
func (c *Controller) StartProxy() error {
	_, err := c.do(func() (string, error) {
		return "", c.startProxy(false)
	})
	return err
}

// Load normalizes resource, records it in the history, and fetches it
// through the client. It returns the normalized URL. The page arrives
// later in the Snapshot and as a load event. When not connected the call
// is dropped and ErrNotConnected is returned.
func (c *Controller) Load(resource string) (string, error) {
	return c.do(func() (string, error) {
		return c.load(resource)
	})
}

// NavigateHistory moves through the history by diff entries and fetches
// the target. The history index moves only once the fetch succeeds.
// Out-of-range moves return history.ErrInvalidNavigation.
func (c *Controller) NavigateHistory(diff int) (string, error) {
	return c.do(func() (string, error) {
		return c.navigate(diff)
	})
}

// SetNodeCount sets how many relays the next connection attempt launches.
func (c *Controller) SetNodeCount(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidNodeCount, n)
	}
	_, err := c.do(func() (string, error) {
		c.nodeCount = n
		c.logger.Info("node count changed", "nodes", n)
		return "", nil
	})
	return err
}

// Snapshot returns the most recently published state.
func (c *Controller) Snapshot() Snapshot {
	return *c.snap.Load()
}

// State returns the current connection state.
func (c *Controller) State() State {
	return c.snap.Load().State
}

// Updates receives a value whenever a new snapshot is published.
// Notifications are coalesced: a slow reader sees only the latest.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// do runs fn on the control loop and returns its result.
func (c *Controller) do(fn func() (string, error)) (string, error) {
	in := intent{fn: fn, reply: make(chan reply, 1)}
	select {
	case c.intents <- in:
	case <-c.done:
		return "", ErrStopped
	}
	select {
	case r := <-in.reply:
		return r.value, r.err
	case <-c.done:
		return "", ErrStopped
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	from := c.state
	c.state = s
	c.logger.Info("state changed", "from", from, "to", s)
	c.emit(&events.StateChangedEvent{
		BaseEvent: events.NewControllerEvent(events.EventStateChanged),
		From:      string(from),
		To:        string(s),
	})
}

func (c *Controller) emit(event events.Event) {
	c.router.Emit(event)
}
