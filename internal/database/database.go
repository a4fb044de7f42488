// Package database owns the single MongoDB connection of the service.
//
// A Handle is constructed once at startup, makes exactly one connect attempt
// and is released with Close during shutdown. Whether serving waits for that
// attempt is decided by a StartupPolicy passed to Open.
package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/0xReLogic/hellomongo/internal/config"
	"github.com/0xReLogic/hellomongo/internal/logging"
)

// State is the lifecycle state of a Handle.
type State int32

const (
	StatePending State = iota
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StartupPolicy decides whether Open waits for the connect attempt.
type StartupPolicy int

const (
	// ServeAnyway runs the connect attempt in the background. Open returns at once.
	ServeAnyway StartupPolicy = iota
	// RequireDatabase runs the connect attempt inline and returns its error.
	RequireDatabase
)

func (p StartupPolicy) String() string {
	if p == RequireDatabase {
		return "require_database"
	}
	return "serve_anyway"
}

var (
	// ErrNotConnected is returned by Ping before a successful connect attempt.
	ErrNotConnected = errors.New("database not connected")
	// ErrClosed is returned once the handle has been released.
	ErrClosed = errors.New("database handle closed")
)

// Options configure a Handle.
type Options struct {
	URI     string
	AppName string
	// ConnectTimeout bounds the connect attempt. Zero leaves it to the driver.
	ConnectTimeout time.Duration
	// OnAttempt is called once when the connect attempt starts.
	OnAttempt func()
	// OnStateChange is called after every state transition.
	OnStateChange func(state State, err error)
}

// FromConfig maps the mongo section of the configuration onto Options and a
// StartupPolicy. Unknown policy names fall back to ServeAnyway.
func FromConfig(cfg config.MongoConfig) (Options, StartupPolicy) {
	opts := Options{
		URI:            cfg.ConnectionString(),
		AppName:        cfg.AppName,
		ConnectTimeout: time.Duration(cfg.ConnectTimeout) * time.Second,
	}
	if cfg.RequireDatabase() {
		return opts, RequireDatabase
	}
	return opts, ServeAnyway
}

// Handle is the process-wide MongoDB connection. It is safe for concurrent use.
type Handle struct {
	opts Options

	started  atomic.Bool
	state    atomic.Int32
	client   atomic.Pointer[mongo.Client]
	done     chan struct{}
	doneOnce sync.Once

	mu      sync.Mutex
	lastErr error
}

// New creates a Handle in the pending state. No network I/O happens here.
func New(opts Options) *Handle {
	return &Handle{opts: opts, done: make(chan struct{})}
}

// Open starts the connect attempt according to policy.
func (h *Handle) Open(ctx context.Context, policy StartupPolicy) error {
	if policy == RequireDatabase {
		return h.Connect(ctx)
	}
	go func() {
		_ = h.Connect(ctx)
	}()
	return nil
}

// Connect makes the single connect attempt: it builds the client and pings
// the admin database, because the driver itself connects lazily. Later calls
// wait for the first attempt and return its result.
func (h *Handle) Connect(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return h.Wait(ctx)
	}
	if h.State() == StateClosed {
		return ErrClosed
	}
	if h.opts.OnAttempt != nil {
		h.opts.OnAttempt()
	}

	if h.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.ConnectTimeout)
		defer cancel()
	}

	err := h.connect(ctx)
	if err != nil && !errors.Is(err, ErrClosed) && h.State() == StateClosed {
		// Shutdown released the handle while the attempt was in flight.
		err = fmt.Errorf("%w: %v", ErrClosed, err)
	}
	logger := logging.L()
	switch {
	case err == nil:
		logger.Info().Msg("connected to MongoDB")
	case errors.Is(err, ErrClosed):
		logger.Warn().Msg("database handle closed during connect")
	default:
		logger.Error().Err(err).Msg("failed to connect to MongoDB")
	}
	return err
}

func (h *Handle) connect(ctx context.Context) error {
	opts := options.Client().ApplyURI(h.opts.URI)
	if h.opts.AppName != "" {
		opts.SetAppName(h.opts.AppName)
	}

	client, err := mongo.Connect(opts)
	if err != nil {
		err = fmt.Errorf("connect to mongodb: %w", err)
		h.finish(StateFailed, err)
		return err
	}

	if err := ping(ctx, client); err != nil {
		_ = client.Disconnect(context.Background())
		err = fmt.Errorf("ping mongodb: %w", err)
		h.finish(StateFailed, err)
		return err
	}

	h.mu.Lock()
	if State(h.state.Load()) == StateClosed {
		h.mu.Unlock()
		_ = client.Disconnect(context.Background())
		return ErrClosed
	}
	h.client.Store(client)
	h.mu.Unlock()

	h.finish(StateConnected, nil)
	return nil
}

func (h *Handle) finish(state State, err error) {
	h.mu.Lock()
	if State(h.state.Load()) == StateClosed {
		h.mu.Unlock()
		return
	}
	h.lastErr = err
	h.state.Store(int32(state))
	h.mu.Unlock()

	h.doneOnce.Do(func() { close(h.done) })
	h.notify(state, err)
}

func (h *Handle) notify(state State, err error) {
	if h.opts.OnStateChange != nil {
		h.opts.OnStateChange(state, err)
	}
}

// Wait blocks until the connect attempt has finished or ctx is done and
// returns the attempt's error.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error of the finished connect attempt, ErrClosed after
// Close, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if State(h.state.Load()) == StateClosed {
		return ErrClosed
	}
	return h.lastErr
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	return State(h.state.Load())
}

// Client returns the connected client, or nil.
func (h *Handle) Client() *mongo.Client {
	return h.client.Load()
}

// Ping checks that the connected client can still reach the server.
func (h *Handle) Ping(ctx context.Context) error {
	client := h.client.Load()
	if client == nil {
		if h.State() == StateClosed {
			return ErrClosed
		}
		return ErrNotConnected
	}
	return ping(ctx, client)
}

// Close releases the client. It is safe to call more than once and before
// the connect attempt has finished.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if State(h.state.Load()) == StateClosed {
		h.mu.Unlock()
		return nil
	}
	h.state.Store(int32(StateClosed))
	client := h.client.Swap(nil)
	h.mu.Unlock()

	h.doneOnce.Do(func() { close(h.done) })
	h.notify(StateClosed, nil)

	if client == nil {
		return nil
	}
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongodb: %w", err)
	}
	logger := logging.L()
	logger.Info().Msg("disconnected from MongoDB")
	return nil
}

func ping(ctx context.Context, client *mongo.Client) error {
	return client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}
