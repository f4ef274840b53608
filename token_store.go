package oauth

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// IdTokenParams carries the request context bound into a signed token: the
// client it was issued to, the nonce from the original authorization
// request (empty if none), and the creation time used for the auth_time
// claim.
type IdTokenParams struct {
	ClientID  string
	Nonce     string
	CreatedAt int64
}

// NewIdTokenParams stamps params with the current wall-clock second.
func NewIdTokenParams(clientID, nonce string) IdTokenParams {
	return IdTokenParams{
		ClientID:  clientID,
		Nonce:     nonce,
		CreatedAt: time.Now().Unix(),
	}
}

// AuthCodeData binds an authorization code to the client, user, and nonce
// it was issued for. Created exactly once per successful
// authentication+authorize step.
type AuthCodeData struct {
	IdTokenParams
	Code      string
	LoginName string
	UserID    string
}

// AccessTokenData records an issued access token. It keeps a copy of the
// originating code's data so claims can be rebuilt after the code itself
// is gone.
type AccessTokenData struct {
	TokenValue string
	AuthCode   AuthCodeData
	CreatedAt  int64
}

// TokenStore is the process-wide registry of issued authorization codes and
// access tokens. A single mutex guards the primary indices and the
// per-login reverse indices so they can never diverge; the endpoint load
// this server sees does not justify anything finer-grained.
type TokenStore struct {
	mu sync.RWMutex

	authCodes    map[string]*AuthCodeData
	accessTokens map[string]*AccessTokenData
	// reverse indices for bulk invalidation on logout
	userAuthCodes    map[string][]*AuthCodeData
	userAccessTokens map[string][]*AccessTokenData

	sweeperStop chan struct{}
	sweeperOnce sync.Once
}

// NewTokenStore creates an empty store. One store is constructed at startup
// and shared by the handler layer for the life of the process.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		authCodes:        make(map[string]*AuthCodeData),
		accessTokens:     make(map[string]*AccessTokenData),
		userAuthCodes:    make(map[string][]*AuthCodeData),
		userAccessTokens: make(map[string][]*AccessTokenData),
		sweeperStop:      make(chan struct{}),
	}
}

// AddAuthCode inserts a freshly issued authorization code into the primary
// index and the owner's reverse index.
func (s *TokenStore) AddAuthCode(data AuthCodeData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &data
	s.authCodes[d.Code] = d
	s.userAuthCodes[d.LoginName] = append(s.userAuthCodes[d.LoginName], d)
	log.Debug().Str("client_id", d.ClientID).Str("login", d.LoginName).Msg("added auth code")
}

// AddAccessToken redeems an authorization code for an access token. The
// code is consumed: it is removed from both indices in the same critical
// section that records the token, so it can never be exchanged twice.
// Returns false if the code is not (or no longer) present; callers are
// expected to have already gated on IsValidAuthCode.
func (s *TokenStore) AddAccessToken(tokenValue, code string) (*AccessTokenData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	codeData, ok := s.authCodes[code]
	if !ok {
		return nil, false
	}
	delete(s.authCodes, code)
	s.userAuthCodes[codeData.LoginName] = removeCode(s.userAuthCodes[codeData.LoginName], code)
	if len(s.userAuthCodes[codeData.LoginName]) == 0 {
		delete(s.userAuthCodes, codeData.LoginName)
	}

	tokenData := &AccessTokenData{
		TokenValue: tokenValue,
		AuthCode:   *codeData,
		CreatedAt:  time.Now().Unix(),
	}
	s.accessTokens[tokenValue] = tokenData
	s.userAccessTokens[codeData.LoginName] = append(s.userAccessTokens[codeData.LoginName], tokenData)
	log.Debug().Str("login", codeData.LoginName).Msg("added access token")
	return tokenData, true
}

// IsValidAuthCode reports whether a code exists and was issued to the given
// client. This is the sole gate before minting an access token; a code
// issued to one client is never valid for another.
func (s *TokenStore) IsValidAuthCode(code, clientID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.authCodes[code]
	return ok && data.ClientID == clientID
}

// TokenData looks up the record behind an access token.
func (s *TokenStore) TokenData(tokenValue string) (*AccessTokenData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.accessTokens[tokenValue]
	return data, ok
}

// UserForToken resolves an access token to the login name that owns it.
func (s *TokenStore) UserForToken(tokenValue string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.accessTokens[tokenValue]
	if !ok {
		return "", false
	}
	return data.AuthCode.LoginName, true
}

// InvalidateAllFor removes every code and token owned by a login name from
// all indices. Called on logout.
func (s *TokenStore) InvalidateAllFor(loginName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, data := range s.userAuthCodes[loginName] {
		delete(s.authCodes, data.Code)
	}
	delete(s.userAuthCodes, loginName)
	for _, data := range s.userAccessTokens[loginName] {
		delete(s.accessTokens, data.TokenValue)
	}
	delete(s.userAccessTokens, loginName)
	log.Debug().Str("login", loginName).Msg("invalidated all codes and tokens")
}

// SweepExpired removes every code and token whose age strictly exceeds the
// given TTL, keeping primary and reverse indices consistent.
func (s *TokenStore) SweepExpired(ttl time.Duration) {
	now := time.Now().Unix()
	ttlSecs := int64(ttl.Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()

	var swept int
	for code, data := range s.authCodes {
		if now-data.CreatedAt > ttlSecs {
			delete(s.authCodes, code)
			s.userAuthCodes[data.LoginName] = removeCode(s.userAuthCodes[data.LoginName], code)
			if len(s.userAuthCodes[data.LoginName]) == 0 {
				delete(s.userAuthCodes, data.LoginName)
			}
			swept++
		}
	}
	for value, data := range s.accessTokens {
		if now-data.CreatedAt > ttlSecs {
			delete(s.accessTokens, value)
			s.userAccessTokens[data.AuthCode.LoginName] = removeToken(s.userAccessTokens[data.AuthCode.LoginName], value)
			if len(s.userAccessTokens[data.AuthCode.LoginName]) == 0 {
				delete(s.userAccessTokens, data.AuthCode.LoginName)
			}
			swept++
		}
	}
	if swept > 0 {
		log.Debug().Int("count", swept).Msg("swept expired codes and tokens")
	}
}

// StartSweeper runs SweepExpired on a fixed interval until Close is called.
func (s *TokenStore) StartSweeper(interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.SweepExpired(ttl)
			case <-s.sweeperStop:
				return
			}
		}
	}()
}

// Close stops the background sweeper.
func (s *TokenStore) Close() error {
	s.sweeperOnce.Do(func() { close(s.sweeperStop) })
	return nil
}

func removeCode(list []*AuthCodeData, code string) []*AuthCodeData {
	for i, data := range list {
		if data.Code == code {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func removeToken(list []*AccessTokenData, tokenValue string) []*AccessTokenData {
	for i, data := range list {
		if data.TokenValue == tokenValue {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
