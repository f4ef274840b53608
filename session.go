package oauth

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
)

// AuthzRequest is a pending authorization request, held inside a session
// until the user finishes logging in or the session ends.
type AuthzRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	State        string
	Nonce        string
	Scopes       []string
}

// Session binds a web session to an authenticated login name and to the
// authorization requests waiting on that login, keyed by opaque form ids.
// Concurrent requests may race to authenticate within one session, so all
// state is guarded.
type Session struct {
	mu        sync.Mutex
	loginName string
	userID    string
	pending   map[string]*AuthzRequest
}

func newSession() *Session {
	return &Session{pending: make(map[string]*AuthzRequest)}
}

// IsAuthenticated reports whether a user has logged in on this session.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginName != ""
}

// LoginName returns the authenticated login name, if any.
func (s *Session) LoginName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginName
}

// UserID returns the authenticated user's id, if any.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// SetAuthenticated marks the session as owned by the given user.
func (s *Session) SetAuthenticated(loginName, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginName = loginName
	s.userID = userID
}

// StashPendingRequest stores an authorization request under a fresh random
// form id and returns the id. The id is carried through the login form so
// the flow can resume after authentication.
func (s *Session) StashPendingRequest(req *AuthzRequest) string {
	formID := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[formID] = req
	log.Debug().Str("form_id", formID).Str("client_id", req.ClientID).Msg("stashed pending authorization request")
	return formID
}

// TakePendingRequest removes and returns the request stashed under a form
// id. At-most-once: a second take of the same id returns nothing.
func (s *Session) TakePendingRequest(formID string) (*AuthzRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.pending[formID]
	if ok {
		delete(s.pending, formID)
	}
	return req, ok
}

// reset discards all session state.
func (s *Session) reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	login := s.loginName
	s.loginName = ""
	s.userID = ""
	s.pending = make(map[string]*AuthzRequest)
	return login
}

// SessionManager owns the per-browser sessions, keyed by the opaque cookie
// value. Sessions expire after the configured idle TTL; expiry only drops
// session state, while explicit logout additionally invalidates the
// owner's codes and tokens.
type SessionManager struct {
	cache  *ttlcache.Cache[string, *Session]
	tokens *TokenStore
}

// NewSessionManager creates a manager whose sessions expire after ttl.
func NewSessionManager(ttl time.Duration, tokens *TokenStore) *SessionManager {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Session](ttl),
	)
	go cache.Start()
	return &SessionManager{cache: cache, tokens: tokens}
}

// Get returns the session for a cookie value, if it exists and has not
// expired. Touching a live session extends its TTL.
func (m *SessionManager) Get(id string) (*Session, bool) {
	item := m.cache.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Create allocates a new session under a fresh opaque id.
func (m *SessionManager) Create() (string, *Session) {
	id := uuid.NewString()
	sess := newSession()
	m.cache.Set(id, sess, ttlcache.DefaultTTL)
	return id, sess
}

// GetOrCreate returns the session for id, or a new session (with its new
// id) when the cookie is missing, stale, or unknown.
func (m *SessionManager) GetOrCreate(id string) (string, *Session) {
	if id != "" {
		if sess, ok := m.Get(id); ok {
			return id, sess
		}
	}
	return m.Create()
}

// Invalidate ends a session: every code and token owned by its login name
// is removed from the token store, then the session itself is discarded.
func (m *SessionManager) Invalidate(id string) {
	sess, ok := m.Get(id)
	if !ok {
		return
	}
	if login := sess.reset(); login != "" {
		m.tokens.InvalidateAllFor(login)
		log.Info().Str("login", login).Msg("session invalidated, tokens cleared")
	}
	m.cache.Delete(id)
}

// Close stops the cache's expiry goroutine.
func (m *SessionManager) Close() error {
	m.cache.Stop()
	return nil
}
