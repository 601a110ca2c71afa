package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/room4-2/liverelay/metrics"
)

// Registry errors
var (
	ErrDuplicateSession = errors.New("session already registered")
	ErrSessionNotFound  = errors.New("session not found")
	ErrTooManySessions  = errors.New("maximum sessions reached")
)

const (
	activeSessionsKey = "active_sessions"
	mirrorTimeout     = 2 * time.Second
)

// Registry maps client identifiers to their live session
type Registry struct {
	sessions    map[string]*Session
	mu          sync.RWMutex
	maxSessions int
	ttl         time.Duration

	redis   *redis.Client // optional mirror, informational only
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// RegistryOptions configures a Registry
type RegistryOptions struct {
	MaxSessions int           // 0 means unlimited
	SessionTTL  time.Duration // TTL of mirrored entries
	Redis       *redis.Client
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		maxSessions: opts.MaxSessions,
		ttl:         opts.SessionTTL,
		redis:       opts.Redis,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// NewRedisMirror connects to Redis for the session mirror.
// It returns nil when Redis is unreachable; the relay runs without it.
func NewRedisMirror(ctx context.Context, addr, password string, logger *slog.Logger) *redis.Client {
	if addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unavailable, session mirror disabled", "addr", addr, "error", err)
		client.Close()
		return nil
	}
	return client
}

// Register adds a session under id.
// The Redis mirror is updated after the lock is released.
func (r *Registry) Register(id string, s *Session) error {
	if err := r.insert(id, s); err != nil {
		return err
	}
	r.mirrorAdd(id, s)
	return nil
}

func (r *Registry) insert(id string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		return ErrTooManySessions
	}

	r.sessions[id] = s
	r.metrics.SessionRegistered()
	return nil
}

// Unregister removes and returns the session registered under id
func (r *Registry) Unregister(id string) (*Session, error) {
	r.mu.Lock()
	s, exists := r.sessions[id]
	if exists {
		r.delete(id)
	}
	r.mu.Unlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	r.mirrorRemove(id)
	return s, nil
}

// remove unregisters s only if it is still the session registered under its id
func (r *Registry) remove(s *Session) error {
	r.mu.Lock()
	current, exists := r.sessions[s.ID]
	owned := exists && current == s
	if owned {
		r.delete(s.ID)
	}
	r.mu.Unlock()

	if !owned {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.ID)
	}
	r.mirrorRemove(s.ID)
	return nil
}

// delete must be called with mu held
func (r *Registry) delete(id string) {
	delete(r.sessions, id)
	r.metrics.SessionUnregistered()
}

// Get retrieves a session by id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[id]
	return s, exists
}

// Count returns current session count
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// CloseInactive closes sessions idle for longer than timeout and returns how
// many were asked to close. Sessions unregister themselves during teardown.
func (r *Registry) CloseInactive(timeout time.Duration) int {
	now := time.Now()
	closed := 0
	for _, s := range r.snapshot() {
		if now.Sub(s.LastActivity()) > timeout {
			s.logger.Info("⏱️ Closing inactive session", "idle", now.Sub(s.LastActivity()).Round(time.Second))
			s.Close()
			closed++
		}
	}
	return closed
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (r *Registry) StartCleanupRoutine(ctx context.Context, timeout time.Duration) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CloseInactive(timeout)
		}
	}
}

// Shutdown closes all sessions and waits for their teardown until ctx expires
func (r *Registry) Shutdown(ctx context.Context) error {
	sessions := r.snapshot()
	for _, s := range sessions {
		s.Close()
	}

	var err error
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			break
		}
	}

	if r.redis != nil {
		if cerr := r.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (r *Registry) mirrorAdd(id string, s *Session) {
	if r.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, "session:"+id, map[string]interface{}{
			"conn_id":    s.ConnID,
			"created_at": s.CreatedAt.Format(time.RFC3339),
			"status":     "active",
		})
		pipe.Expire(ctx, "session:"+id, r.ttl)
		pipe.SAdd(ctx, activeSessionsKey, id)
		return nil
	})
	if err != nil {
		r.logger.Warn("Redis mirror add failed", "client_id", id, "error", err)
	}
}

func (r *Registry) mirrorRemove(id string) {
	if r.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
	defer cancel()

	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, "session:"+id)
		pipe.SRem(ctx, activeSessionsKey, id)
		return nil
	})
	if err != nil {
		r.logger.Warn("Redis mirror remove failed", "client_id", id, "error", err)
	}
}
