package console

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"admoderation/internal/pkg/metrics"

	"github.com/google/uuid"
)

// ErrSessionNotFound 会话不存在或已过期。
var ErrSessionNotFound = errors.New("session not found")

// DefaultIdleTimeout 会话空闲过期时间。
const DefaultIdleTimeout = 30 * time.Minute

// Manager 管理审核员会话。
type Manager struct {
	deps   Deps
	idle   time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager 创建会话管理器。
//
// 参数:
//
//	deps: 每个新会话共用的依赖，缓存与选择集不共享
//	idle: 空闲过期时间，<=0 时使用默认值
//	logger: 日志
func NewManager(deps Deps, idle time.Duration, logger *slog.Logger) *Manager {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Logger == nil {
		deps.Logger = logger
	}
	return &Manager{
		deps:     deps,
		idle:     idle,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create 创建新会话并返回其 id。
func (m *Manager) Create() (string, *Session) {
	id := uuid.NewString()
	sess := NewSession(m.deps)

	m.mu.Lock()
	m.sessions[id] = sess
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(n))
	m.logger.Info("session created", slog.String("session_id", id))
	return id, sess
}

// Get 按 id 查找会话。
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove 删除会话。
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(n))
}

// Len 返回当前会话数。
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep 删除在 now 之前空闲超时的会话，返回删除数量。
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.idle)

	m.mu.Lock()
	removed := 0
	for id, sess := range m.sessions {
		if sess.LastSeen().Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	if removed > 0 {
		metrics.ActiveSessions.Set(float64(n))
		m.logger.Info("expired idle sessions", slog.Int("removed", removed), slog.Int("active", n))
	}
	return removed
}

// Run 周期清理空闲会话，直到 ctx 取消。
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}
