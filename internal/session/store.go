package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/KPaul404/Virtual-try-on/internal/domain"
)

const DefaultTTL = time.Hour

// Store holds sessions in memory. Each access extends a session's lifetime
// by the TTL; idle sessions are evicted.
type Store struct {
	items *cache.Cache
	ttl   time.Duration
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cleanup := ttl / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Store{items: cache.New(ttl, cleanup), ttl: ttl}
}

func (s *Store) Create() *Session {
	sess := &Session{ID: uuid.NewString(), CreatedAt: time.Now()}
	s.items.SetDefault(sess.ID, sess)
	return sess
}

// Get returns the session and refreshes its expiry.
func (s *Store) Get(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrNotFound
	}
	v, ok := s.items.Get(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	sess := v.(*Session)
	s.items.SetDefault(id, sess)
	return sess, nil
}

func (s *Store) Delete(id string) {
	s.items.Delete(id)
}

func (s *Store) Len() int {
	return s.items.ItemCount()
}
