// Package authenticators provides the built-in credential backends.
// Importing the package registers them; the config file selects one by
// name.
package authenticators

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"golang.org/x/crypto/bcrypt"

	oauth "github.com/veupathdb/oauth-server"
)

func init() {
	oauth.RegisterAuthenticator("memory", NewMemoryAuthenticator)
}

// memoryUser is one account in the in-memory backend's settings block.
type memoryUser struct {
	userID            string
	passwordHash      []byte
	email             string
	emailVerified     bool
	preferredUsername string
	supplemental      map[string]any
}

// MemoryAuthenticator keeps its accounts in memory, loaded from the
// authenticator settings block. Intended for development and testing
// deployments; production installs plug in a real account backend.
type MemoryAuthenticator struct {
	mu    sync.RWMutex
	users map[string]*memoryUser

	guestsEnabled bool
	guestCounter  int64
	guestIDs      map[string]struct{}

	// signatureKey derives the stable per-user signature claim.
	signatureKey []byte
}

// NewMemoryAuthenticator builds the backend from its settings block:
//
//	settings:
//	  signature_key: <secret string>
//	  allow_guests: true
//	  users:
//	    - username: jdoe
//	      user_id: "101"
//	      password: plaintext-or-bcrypt-hash
//	      email: jdoe@example.org
//	      email_verified: true
//	      supplemental: {organization: Example}
//
// Passwords starting with a bcrypt prefix are treated as pre-hashed;
// anything else is hashed at load time.
func NewMemoryAuthenticator(settings map[string]any) (oauth.Authenticator, error) {
	auth := &MemoryAuthenticator{
		users:    make(map[string]*memoryUser),
		guestIDs: make(map[string]struct{}),
	}

	if key, _ := settings["signature_key"].(string); key != "" {
		auth.signatureKey = []byte(key)
	} else {
		return nil, fmt.Errorf("memory authenticator requires a signature_key setting")
	}
	auth.guestsEnabled, _ = settings["allow_guests"].(bool)

	rawUsers, _ := settings["users"].([]any)
	for i, raw := range rawUsers {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("memory authenticator user entry %d is not a map", i)
		}
		username, _ := entry["username"].(string)
		userID, _ := entry["user_id"].(string)
		password, _ := entry["password"].(string)
		if username == "" || userID == "" || password == "" {
			return nil, fmt.Errorf("memory authenticator user entry %d needs username, user_id, and password", i)
		}
		if _, dup := auth.users[username]; dup {
			return nil, fmt.Errorf("memory authenticator user %q configured twice", username)
		}

		hash, err := passwordHash(password)
		if err != nil {
			return nil, fmt.Errorf("hashing password for user %q: %w", username, err)
		}

		user := &memoryUser{
			userID:       userID,
			passwordHash: hash,
		}
		user.email, _ = entry["email"].(string)
		user.emailVerified, _ = entry["email_verified"].(bool)
		user.preferredUsername, _ = entry["preferred_username"].(string)
		if user.preferredUsername == "" {
			user.preferredUsername = username
		}
		if supplemental, ok := entry["supplemental"].(map[string]any); ok {
			user.supplemental = supplemental
		}
		auth.users[username] = user
	}

	return auth, nil
}

func passwordHash(password string) ([]byte, error) {
	if len(password) > 4 && password[0] == '$' && password[1] == '2' {
		// Already a bcrypt hash.
		return []byte(password), nil
	}
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// ValidateCredentials checks a username/password pair against the stored
// bcrypt hash.
func (a *MemoryAuthenticator) ValidateCredentials(_ context.Context, username, password string) (string, bool, error) {
	a.mu.RLock()
	user, found := a.users[username]
	a.mu.RUnlock()
	if !found {
		// Burn comparable time so missing users are not distinguishable by
		// response latency.
		_ = bcrypt.CompareHashAndPassword(burnHash, []byte(password))
		return "", false, nil
	}
	if bcrypt.CompareHashAndPassword(user.passwordHash, []byte(password)) != nil {
		return "", false, nil
	}
	return user.userID, true, nil
}

var burnHash, _ = bcrypt.GenerateFromPassword([]byte("timing-equalizer"), bcrypt.DefaultCost)

// UserByLoginName resolves a login name to user data at the given scope.
func (a *MemoryAuthenticator) UserByLoginName(_ context.Context, loginName string, scope oauth.DataScope) (*oauth.UserInfo, error) {
	a.mu.RLock()
	user, found := a.users[loginName]
	a.mu.RUnlock()
	if !found {
		return nil, nil
	}

	info := &oauth.UserInfo{
		UserID:            user.userID,
		Email:             user.email,
		EmailVerified:     user.emailVerified,
		PreferredUsername: user.preferredUsername,
		Signature:         a.signature(user.userID),
	}
	if scope != oauth.ScopeBearerToken {
		info.Supplemental = user.supplemental
	}
	return info, nil
}

// OverwritePassword replaces the stored password for a user.
func (a *MemoryAuthenticator) OverwritePassword(_ context.Context, username, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	user, found := a.users[username]
	if !found {
		return fmt.Errorf("no such user %q", username)
	}
	user.passwordHash = hash
	return nil
}

// SupportsGuests reports whether guest identities were enabled in settings.
func (a *MemoryAuthenticator) SupportsGuests() bool {
	return a.guestsEnabled
}

// NextGuestID allocates a fresh guest identity.
func (a *MemoryAuthenticator) NextGuestID(_ context.Context) (string, error) {
	if !a.guestsEnabled {
		return "", fmt.Errorf("guest identities are disabled")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.guestCounter++
	id := "guest-" + strconv.FormatInt(a.guestCounter, 10)
	a.guestIDs[id] = struct{}{}
	return id, nil
}

// GuestProfile returns the profile for a previously allocated guest id.
func (a *MemoryAuthenticator) GuestProfile(_ context.Context, userID string) (*oauth.UserInfo, error) {
	a.mu.RLock()
	_, found := a.guestIDs[userID]
	a.mu.RUnlock()
	if !found {
		return nil, nil
	}
	return &oauth.UserInfo{
		UserID:    userID,
		IsGuest:   true,
		Signature: a.signature(userID),
	}, nil
}

// Close releases nothing; the backend holds no external resources.
func (a *MemoryAuthenticator) Close() error {
	return nil
}

// signature derives the stable per-user signature claim from the backend's
// secret key, so it cannot be computed from the public user id alone.
func (a *MemoryAuthenticator) signature(userID string) string {
	mac := hmac.New(sha256.New, a.signatureKey)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}
