package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// ErrUnknownSubject is returned when the authenticator cannot resolve the
// user behind a previously issued code or token. Surfaced as an
// authorization failure; it usually means stale or corrupted state and is
// logged loudly.
var ErrUnknownSubject = errors.New("unknown subject")

// ErrGuestsUnsupported is returned when a guest token is requested but the
// configured authenticator does not allocate guest identities.
var ErrGuestsUnsupported = errors.New("this token service does not support guest tokens")

// Standard claim names used in issued tokens.
const (
	ClaimIssuer            = "iss"
	ClaimSubject           = "sub"
	ClaimAudience          = "aud"
	ClaimAuthorizedParty   = "azp"
	ClaimAuthTime          = "auth_time"
	ClaimIssuedAt          = "iat"
	ClaimExpiration        = "exp"
	ClaimNonce             = "nonce"
	ClaimEmail             = "email"
	ClaimEmailVerified     = "email_verified"
	ClaimPreferredUsername = "preferred_username"
	ClaimIsGuest           = "is_guest"
	ClaimSignature         = "signature"
)

// reservedClaims are the natively supported claim names. Supplemental
// fields from the authenticator may never override them.
var reservedClaims = map[string]struct{}{
	ClaimIssuer: {}, ClaimSubject: {}, ClaimAudience: {}, ClaimAuthorizedParty: {},
	ClaimAuthTime: {}, ClaimIssuedAt: {}, ClaimExpiration: {}, ClaimNonce: {},
	ClaimEmail: {}, ClaimEmailVerified: {}, ClaimPreferredUsername: {},
	ClaimIsGuest: {}, ClaimSignature: {},
}

// TokenFactory assembles the JSON claim sets for ID, bearer, and guest
// tokens, delegating user lookup to the external authenticator.
type TokenFactory struct {
	auth Authenticator
}

// NewTokenFactory creates a factory backed by the given authenticator.
func NewTokenFactory(auth Authenticator) *TokenFactory {
	return &TokenFactory{auth: auth}
}

// TokenClaims builds the claim set for an ID or bearer token for the given
// login name. Bearer scope omits email fields to keep tokens small. A
// login name the authenticator cannot resolve yields ErrUnknownSubject;
// backend failures are wrapped and returned as-is for the caller to map to
// a server error.
func (f *TokenFactory) TokenClaims(ctx context.Context, loginName string, params IdTokenParams,
	issuer string, ttl time.Duration, scope DataScope,
) (jwt.MapClaims, error) {
	user, err := f.lookupUser(ctx, loginName, scope)
	if err != nil {
		return nil, err
	}

	claims := baseClaims(user)
	appendOidcClaims(claims, params, issuer, ttl)
	f.appendProfileClaims(claims, user, scope)
	return claims, nil
}

// ProfileClaims builds the full profile claim set returned by the user
// endpoint.
func (f *TokenFactory) ProfileClaims(ctx context.Context, loginName string) (jwt.MapClaims, error) {
	user, err := f.lookupUser(ctx, loginName, ScopeProfile)
	if err != nil {
		return nil, err
	}
	claims := baseClaims(user)
	f.appendProfileClaims(claims, user, ScopeProfile)
	return claims, nil
}

// GuestTokenClaims allocates a fresh guest identity and builds its claim
// set: the base and OIDC fields only, with no profile data.
func (f *TokenFactory) GuestTokenClaims(ctx context.Context, clientID, issuer string, ttl time.Duration) (jwt.MapClaims, error) {
	if !f.auth.SupportsGuests() {
		return nil, ErrGuestsUnsupported
	}
	guestID, err := f.auth.NextGuestID(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocating guest identity: %w", err)
	}
	guest, err := f.auth.GuestProfile(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("loading guest profile %q: %w", guestID, err)
	}
	claims := baseClaims(guest)
	appendOidcClaims(claims, NewIdTokenParams(clientID, ""), issuer, ttl)
	return claims, nil
}

func (f *TokenFactory) lookupUser(ctx context.Context, loginName string, scope DataScope) (*UserInfo, error) {
	user, err := f.auth.UserByLoginName(ctx, loginName, scope)
	if err != nil {
		return nil, fmt.Errorf("resolving user %q: %w", loginName, err)
	}
	if user == nil || user.UserID == "" {
		log.Warn().Str("login", loginName).Msg("token requested for login name that does not resolve to a user")
		return nil, fmt.Errorf("%w: %s", ErrUnknownSubject, loginName)
	}
	return user, nil
}

func baseClaims(user *UserInfo) jwt.MapClaims {
	return jwt.MapClaims{
		ClaimSubject: user.UserID,
		ClaimIsGuest: user.IsGuest,
	}
}

func appendOidcClaims(claims jwt.MapClaims, params IdTokenParams, issuer string, ttl time.Duration) {
	now := time.Now().Unix()
	claims[ClaimIssuer] = issuer
	claims[ClaimAudience] = params.ClientID
	claims[ClaimAuthorizedParty] = params.ClientID
	claims[ClaimAuthTime] = params.CreatedAt
	claims[ClaimIssuedAt] = now
	claims[ClaimExpiration] = now + int64(ttl.Seconds())
	if params.Nonce != "" {
		claims[ClaimNonce] = params.Nonce
	}
}

func (f *TokenFactory) appendProfileClaims(claims jwt.MapClaims, user *UserInfo, scope DataScope) {
	if scope != ScopeBearerToken && user.Email != "" {
		claims[ClaimEmail] = user.Email
		claims[ClaimEmailVerified] = user.EmailVerified
	}
	if user.PreferredUsername != "" {
		claims[ClaimPreferredUsername] = user.PreferredUsername
	}
	if user.Signature != "" {
		claims[ClaimSignature] = user.Signature
	}
	for key, value := range user.Supplemental {
		if _, reserved := reservedClaims[key]; reserved {
			log.Warn().Str("claim", key).Msg("authenticator tried to override a reserved token claim, skipping")
			continue
		}
		claims[key] = value
	}
}
