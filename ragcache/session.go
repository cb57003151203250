package ragcache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-shield/cache"
	"github.com/saiset-co/sai-shield/types"
)

type Session struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	CreatedAt  time.Time         `json:"created_at"`
	LastSeenAt time.Time         `json:"last_seen_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SessionCache keeps chat session state. Touch refreshes LastSeenAt and
// rewrites the entry, sliding its expiry forward.
type SessionCache struct {
	client *cache.Client
	logger types.Logger
	stats  stats
}

func NewSessionCache(client *cache.Client, logger types.Logger) *SessionCache {
	return &SessionCache{client: client, logger: logger}
}

func (s *SessionCache) Get(ctx context.Context, sessionID string) (*Session, bool) {
	var session Session
	if !cache.GetAs(ctx, s.client, sessionID, types.NamespaceSession, &session) {
		s.stats.miss()
		return nil, false
	}

	s.stats.hit()
	return &session, true
}

func (s *SessionCache) Put(ctx context.Context, session *Session) {
	if session == nil || session.ID == "" {
		return
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastSeenAt.IsZero() {
		session.LastSeenAt = now
	}

	cache.Put(ctx, s.client, session.ID, types.NamespaceSession, session)
	s.stats.write()
}

func (s *SessionCache) Touch(ctx context.Context, sessionID string) bool {
	session, ok := s.Get(ctx, sessionID)
	if !ok {
		return false
	}

	session.LastSeenAt = time.Now()
	s.Put(ctx, session)
	return true
}

func (s *SessionCache) Delete(ctx context.Context, sessionID string) {
	s.client.Delete(ctx, sessionID, types.NamespaceSession)
}

func (s *SessionCache) Stats() Stats {
	return s.stats.snapshot()
}
