package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/room4-2/realtime-relay/config"
	"github.com/room4-2/realtime-relay/logging"
	"github.com/room4-2/realtime-relay/metrics"
)

// ErrMaxSessions is returned when MAX_SESSIONS sessions are already open
var ErrMaxSessions = errors.New("maximum sessions reached")

const (
	redisSessionPrefix = "relay:session:"
	redisActiveSet     = "relay:active_sessions"
	cleanupInterval    = 1 * time.Minute
)

// Manager manages all client sessions
type Manager struct {
	sessions map[string]*ClientSession
	mu       sync.RWMutex
	redis    *redis.Client
	config   *config.Config
	dialer   LinkDialer
	api      ProviderAPI
	log      *zap.Logger
	metrics  *metrics.Collector
}

// NewManager creates a session manager. The Redis mirror is optional: when
// REDIS_URL is unset or unreachable the manager runs memory-only.
func NewManager(cfg *config.Config, dialer LinkDialer, api ProviderAPI, logger *zap.Logger, collector *metrics.Collector) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("session manager needs a config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		sessions: make(map[string]*ClientSession),
		redis:    connectRedis(cfg, logger),
		config:   cfg,
		dialer:   dialer,
		api:      api,
		log:      logger,
		metrics:  collector,
	}, nil
}

func connectRedis(cfg *config.Config, logger *zap.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}

	opts := &redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	}
	if strings.Contains(cfg.RedisURL, "://") {
		parsed, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid REDIS_URL, running without session mirror", zap.Error(err))
			return nil
		}
		if cfg.RedisPassword != "" {
			parsed.Password = cfg.RedisPassword
		}
		opts = parsed
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, running without session mirror", zap.Error(err))
		client.Close()
		return nil
	}
	return client
}

// CreateSession registers a new session for an accepted client socket. The
// caller starts it.
func (sm *Manager) CreateSession(ctx context.Context, clientConn ClientConn) (*ClientSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.config.MaxSessions > 0 && len(sm.sessions) >= sm.config.MaxSessions {
		return nil, ErrMaxSessions
	}

	sessionID := uuid.New().String()
	session := NewClientSession(sessionID, clientConn, sm.config, sm.dialer, sm.api, sm.log, sm.metrics)

	sm.storeSession(ctx, sessionID, session)
	sm.metrics.SessionOpened()
	sm.log.Info("session created",
		zap.String("session", logging.ShortID(sessionID)),
		zap.String("mode", sm.config.UpstreamMode),
		zap.Int("active", len(sm.sessions)),
	)

	go sm.reap(session)
	return session, nil
}

// reap drops a session from the registry once its client socket is released.
func (sm *Manager) reap(session *ClientSession) {
	<-session.Done()
	sm.RemoveSession(context.Background(), session.ID)
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *ClientSession) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		key := redisSessionPrefix + sessionID
		sm.redis.HSet(ctx, key, map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActivity().Format(time.RFC3339),
			"status":        "active",
			"mode":          sm.config.UpstreamMode,
		})
		sm.redis.SAdd(ctx, redisActiveSet, sessionID)
		sm.redis.Expire(ctx, key, sm.config.SessionTimeout)
	}
}

func (sm *Manager) forget(ctx context.Context, sessionID string) {
	delete(sm.sessions, sessionID)
	sm.metrics.SessionClosed()

	if sm.redis != nil {
		sm.redis.Del(ctx, redisSessionPrefix+sessionID)
		sm.redis.SRem(ctx, redisActiveSet, sessionID)
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*ClientSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession closes and unregisters a session. Unknown IDs are ignored.
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	session, exists := sm.sessions[sessionID]
	if !exists {
		sm.mu.Unlock()
		return nil
	}
	sm.forget(ctx, sessionID)
	sm.mu.Unlock()

	session.Close()
	sm.log.Info("session removed", zap.String("session", logging.ShortID(sessionID)))
	return nil
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions closes sessions idle for longer than SESSION_TIMEOUT
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) int {
	if sm.config.SessionTimeout <= 0 {
		return 0
	}

	sm.mu.Lock()
	var stale []*ClientSession
	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActivity()) > sm.config.SessionTimeout {
			stale = append(stale, session)
			sm.forget(ctx, id)
		}
	}
	sm.mu.Unlock()

	for _, session := range stale {
		sm.log.Info("closing inactive session", zap.String("session", logging.ShortID(session.ID)))
		session.Close()
	}
	return len(stale)
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	sessions := make([]*ClientSession, 0, len(sm.sessions))
	for id, session := range sm.sessions {
		sessions = append(sessions, session)
		sm.forget(context.Background(), id)
	}
	sm.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
