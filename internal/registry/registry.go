// Package registry caches one open database handle per (host, port,
// database) so repeated questions against the same database reuse a pool.
package registry

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/querychat/querychat/internal/dialect"
	"github.com/querychat/querychat/internal/observability"
	"github.com/querychat/querychat/internal/settings"
)

const (
	defaultOpenTimeout = 10 * time.Second
	maxLeaseAttempts   = 3
)

var (
	ErrConnectionFailed = errors.New("connection failed")
	ErrDatabaseRequired = errors.New("database name is required")
	ErrClosed           = errors.New("registry is closed")
)

// ConnectionError reports a failed open or ping for key. It matches
// ErrConnectionFailed under errors.Is.
type ConnectionError struct {
	Key Key
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Key, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionFailed }

// Key is the normalized identity of a cached handle.
type Key struct {
	Host     string
	Port     string
	Database string
}

func NewKey(host, port, database string) Key {
	return Key{
		Host:     strings.ToLower(strings.TrimSpace(host)),
		Port:     strings.TrimSpace(port),
		Database: strings.TrimSpace(database),
	}
}

func (k Key) String() string {
	hostPort := k.Host
	if k.Port != "" {
		hostPort = net.JoinHostPort(k.Host, k.Port)
	}
	return hostPort + "/" + k.Database
}

// Handle is a cached pool for one database. Resolve hands it out with a
// lease; callers return the lease with Release. An evicted handle keeps its
// pool open until the last lease is returned.
type Handle struct {
	Key       Key
	Dialect   dialect.Dialect
	DB        *sql.DB
	CreatedAt time.Time

	fingerprint string
	log         *slog.Logger

	mu      sync.Mutex
	leases  int
	retired bool
	closed  bool
}

// acquire takes a lease unless the handle has already been evicted.
func (h *Handle) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retired {
		return false
	}
	h.leases++
	return true
}

// Release returns the lease taken by Resolve. It is safe on a nil handle and
// on handles that were never leased.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.mu.Lock()
	if h.leases > 0 {
		h.leases--
	}
	closeNow := h.retired && h.leases == 0 && !h.closed
	if closeNow {
		h.closed = true
	}
	h.mu.Unlock()
	if closeNow {
		h.closePool()
	}
}

// retire marks the handle evicted and closes the pool once no lease is held.
func (h *Handle) retire() {
	h.mu.Lock()
	h.retired = true
	closeNow := h.leases == 0 && !h.closed
	if closeNow {
		h.closed = true
	}
	h.mu.Unlock()
	if closeNow {
		h.closePool()
	}
}

func (h *Handle) closePool() {
	if err := h.DB.Close(); err != nil && h.log != nil {
		h.log.Warn("close database handle failed", "key", h.Key.String(), "error", err)
	}
}

// HandleInfo describes a cached handle without exposing the pool.
type HandleInfo struct {
	Key       Key       `json:"-"`
	Name      string    `json:"key"`
	Dialect   string    `json:"dialect"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// ConfigSource supplies the current database credentials.
type ConfigSource interface {
	Require() (settings.Configuration, error)
}

// OpenFunc opens an unpinged handle for database.
type OpenFunc func(creds settings.Database, database string) (*sql.DB, error)

type Config struct {
	Logger   *slog.Logger
	Settings ConfigSource
	Dialect  dialect.Dialect

	// Optional with defaults.
	Clock           clockwork.Clock
	Open            OpenFunc
	IdleTTL         time.Duration
	OpenTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Settings == nil {
		return errors.New("settings source is required")
	}
	if c.Dialect == nil {
		return errors.New("dialect is required")
	}
	if c.IdleTTL < 0 {
		return errors.New("idle ttl must be >= 0")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Open == nil {
		c.Open = c.Dialect.Open
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
	return nil
}

type Registry struct {
	cfg   Config
	log   *slog.Logger
	group singleflight.Group

	mu      sync.Mutex
	cache   *ttlcache.Cache[Key, *Handle]
	closed  bool
	started bool
	live    atomic.Int64
}

func New(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// A zero TTL keeps handles until they are invalidated explicitly.
	cache := ttlcache.New(
		ttlcache.WithTTL[Key, *Handle](cfg.IdleTTL),
	)
	r := &Registry{
		cfg:   cfg,
		log:   cfg.Logger.With("component", "registry"),
		cache: cache,
	}
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[Key, *Handle]) {
		r.release(item.Value(), evictionReason(reason))
	})
	if cfg.IdleTTL > 0 {
		r.started = true
		go cache.Start()
	}
	return r, nil
}

// Resolve returns the cached handle for database on the configured server,
// opening it on first use. Concurrent first-time callers share one open.
// The returned handle is leased; callers must call Release when done.
func (r *Registry) Resolve(ctx context.Context, database string) (*Handle, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	cfg, err := r.cfg.Settings.Require()
	if err != nil {
		return nil, err
	}
	key := NewKey(cfg.Database.Host, cfg.Database.Port.String(), database)
	if key.Database == "" {
		return nil, ErrDatabaseRequired
	}
	fp := fingerprint(cfg.Database)

	// A handle evicted between being found and being leased is reopened.
	for attempt := 0; attempt < maxLeaseAttempts; attempt++ {
		if h := r.lookup(key, fp); h != nil && h.acquire() {
			return h, nil
		}

		v, err, _ := r.group.Do(key.String()+"#"+fp, func() (any, error) {
			if h := r.lookup(key, fp); h != nil {
				return h, nil
			}
			h, err := r.open(ctx, key, cfg.Database, fp)
			if err != nil {
				return nil, err
			}
			return r.store(h)
		})
		if err != nil {
			return nil, err
		}
		if h := v.(*Handle); h.acquire() {
			return h, nil
		}
	}
	return nil, &ConnectionError{Key: key, Err: errors.New("handle evicted while resolving")}
}

// Dialect is the engine every handle in this registry speaks.
func (r *Registry) Dialect() dialect.Dialect { return r.cfg.Dialect }

// Invalidate evicts every cached handle for database, on any server, and
// returns how many were removed. Pools close once in-flight leases end.
func (r *Registry) Invalidate(database string) int {
	database = strings.TrimSpace(database)
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, key := range r.cache.Keys() {
		if key.Database == database {
			r.cache.Delete(key)
			removed++
		}
	}
	if removed > 0 {
		r.log.Info("handles invalidated", "database", database, "count", removed)
	}
	return removed
}

// Purge evicts every cached handle. Pools close once in-flight leases end.
func (r *Registry) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.cache.Len()
	r.cache.DeleteAll()
	if n > 0 {
		r.log.Info("handles purged", "count", n)
	}
	return n
}

func (r *Registry) Len() int {
	return int(r.live.Load())
}

// Handles lists the cached handles ordered by key.
func (r *Registry) Handles() []HandleInfo {
	r.mu.Lock()
	items := r.cache.Items()
	r.mu.Unlock()

	out := make([]HandleInfo, 0, len(items))
	for key, item := range items {
		h := item.Value()
		info := HandleInfo{
			Key:       key,
			Name:      key.String(),
			Dialect:   h.Dialect.Name(),
			CreatedAt: h.CreatedAt,
		}
		if r.cfg.IdleTTL > 0 {
			info.ExpiresAt = item.ExpiresAt()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close closes every handle. Later Resolve calls fail with ErrClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.cache.DeleteAll()
	started := r.started
	r.mu.Unlock()

	if started {
		r.cache.Stop()
	}
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) lookup(key Key, fp string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := r.cache.Get(key)
	if item == nil {
		return nil
	}
	h := item.Value()
	if h.fingerprint != fp {
		return nil
	}
	return h
}

func (r *Registry) store(h *Handle) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = h.DB.Close()
		return nil, ErrClosed
	}
	if item := r.cache.Get(h.Key); item != nil && item.Value().fingerprint == h.fingerprint {
		_ = h.DB.Close()
		return item.Value(), nil
	}
	// Deleting first closes a stale or expired handle still held for the key.
	r.cache.Delete(h.Key)
	r.cache.Set(h.Key, h, ttlcache.DefaultTTL)
	observability.SetRegistryCachedHandles(int(r.live.Add(1)))
	return h, nil
}

func (r *Registry) open(ctx context.Context, key Key, creds settings.Database, fp string) (*Handle, error) {
	name := r.cfg.Dialect.Name()
	start := r.cfg.Clock.Now()

	db, err := r.cfg.Open(creds, key.Database)
	if err != nil {
		observability.ObserveRegistryOpen(name, "error")
		r.log.Warn("open database failed", "key", key.String(), "error", err)
		return nil, &ConnectionError{Key: key, Err: err}
	}
	if r.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(r.cfg.MaxOpenConns)
	}
	if r.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(r.cfg.MaxIdleConns)
	}
	if r.cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(r.cfg.ConnMaxIdleTime)
	}
	if r.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(r.cfg.ConnMaxLifetime)
	}

	// The open is shared by every waiter, so it must not die with the
	// first caller's request.
	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.OpenTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		observability.ObserveRegistryOpen(name, "error")
		r.log.Warn("ping database failed", "key", key.String(), "error", err)
		return nil, &ConnectionError{Key: key, Err: fmt.Errorf("ping: %w", err)}
	}

	observability.ObserveRegistryOpen(name, "ok")
	r.log.Info("database handle opened", "key", key.String(), "dialect", name, "duration", r.cfg.Clock.Since(start).String())
	return &Handle{
		Key:         key,
		Dialect:     r.cfg.Dialect,
		DB:          db,
		CreatedAt:   r.cfg.Clock.Now().UTC(),
		fingerprint: fp,
		log:         r.log,
	}, nil
}

func (r *Registry) release(h *Handle, reason string) {
	if h == nil {
		return
	}
	h.retire()
	observability.ObserveRegistryEviction(reason)
	observability.SetRegistryCachedHandles(int(r.live.Add(-1)))
	r.log.Debug("database handle evicted", "key", h.Key.String(), "reason", reason)
}

func evictionReason(reason ttlcache.EvictionReason) string {
	switch reason {
	case ttlcache.EvictionReasonExpired:
		return "expired"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	default:
		return "deleted"
	}
}

func fingerprint(creds settings.Database) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		strings.ToLower(strings.TrimSpace(creds.Host)),
		strings.TrimSpace(creds.Port.String()),
		creds.User,
		creds.Password,
	}, "\x00")))
	return hex.EncodeToString(sum[:8])
}
