package oauth

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// DataScope controls how much user data is loaded for a token or profile.
type DataScope string

const (
	// ScopeIDToken loads the fields embedded in an OIDC ID token.
	ScopeIDToken DataScope = "id_token"
	// ScopeBearerToken loads the minimal fields for a bearer token; email
	// and other profile data are omitted to keep tokens small.
	ScopeBearerToken DataScope = "bearer_token"
	// ScopeProfile loads the full user profile returned by the user
	// endpoint.
	ScopeProfile DataScope = "profile"
)

// UserInfo is the user record an Authenticator resolves for token and
// profile assembly. Only UserID is required; empty optional fields are
// omitted from issued claims. Supplemental entries are merged into claims
// unless they collide with a reserved claim name.
type UserInfo struct {
	UserID            string
	IsGuest           bool
	Email             string
	EmailVerified     bool
	PreferredUsername string
	// Signature is a stable but non-guessable per-user identifier,
	// distinct from the numeric user id.
	Signature    string
	Supplemental map[string]any
}

// Authenticator is the pluggable credential and user-profile backend. The
// protocol engine treats it as its only external collaborator: calls may
// block on I/O, and any error it returns is mapped to a generic server
// error rather than propagated to clients.
type Authenticator interface {
	io.Closer

	// ValidateCredentials checks a username/password pair, returning the
	// user id on success and ok=false for bad credentials. An error means
	// the backend itself failed.
	ValidateCredentials(ctx context.Context, username, password string) (userID string, ok bool, err error)

	// UserByLoginName resolves a login name to user data at the given
	// scope. A nil UserInfo with nil error means the user does not exist.
	UserByLoginName(ctx context.Context, loginName string, scope DataScope) (*UserInfo, error)

	// OverwritePassword replaces the stored password for a user.
	OverwritePassword(ctx context.Context, username, newPassword string) error

	// SupportsGuests reports whether NextGuestID can allocate guest
	// identities.
	SupportsGuests() bool

	// NextGuestID allocates a fresh guest identity and returns its user id.
	NextGuestID(ctx context.Context) (string, error)

	// GuestProfile returns the profile for a previously allocated guest id.
	GuestProfile(ctx context.Context, userID string) (*UserInfo, error)
}

// AuthenticatorFactory builds an Authenticator from its opaque
// configuration block.
type AuthenticatorFactory func(settings map[string]any) (Authenticator, error)

var (
	authRegistryMu sync.RWMutex
	authRegistry   = make(map[string]AuthenticatorFactory)
)

// RegisterAuthenticator maps a configuration name to a factory. Backends
// register themselves at init time; the config file then selects one by
// name.
func RegisterAuthenticator(name string, factory AuthenticatorFactory) {
	authRegistryMu.Lock()
	defer authRegistryMu.Unlock()
	if _, exists := authRegistry[name]; exists {
		panic(fmt.Sprintf("authenticator %q registered twice", name))
	}
	authRegistry[name] = factory
}

// NewAuthenticator constructs the named backend with its settings block.
func NewAuthenticator(name string, settings map[string]any) (Authenticator, error) {
	authRegistryMu.RLock()
	factory, ok := authRegistry[name]
	authRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown authenticator %q (registered: %v)", name, registeredAuthenticators())
	}
	return factory(settings)
}

func registeredAuthenticators() []string {
	authRegistryMu.RLock()
	defer authRegistryMu.RUnlock()
	names := make([]string, 0, len(authRegistry))
	for name := range authRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
