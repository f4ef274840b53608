package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	goerrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	ssoerrors "github.com/veupathdb/oauth-server/errors"
)

// Paths the protocol engine redirects browsers to. The API layer registers
// handlers under the same paths.
const (
	LoginFormPath    = "/login"
	LoginSuccessPath = "/success"
)

// FormIDParam is the query parameter carrying the form id that correlates
// a login submission with its stashed authorization request.
const FormIDParam = "form_id"

// TokenRequest is a parsed token-endpoint request.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
}

// OAuthServiceConfig wires the protocol engine's collaborators and
// deployment choices together.
type OAuthServiceConfig struct {
	Issuer                   string
	TokenTTL                 time.Duration
	BearerTokenTTL           time.Duration
	IncludeUserInfoWithToken bool

	Validator     *ClientValidator
	Sessions      *SessionManager
	Tokens        *TokenStore
	Factory       *TokenFactory
	Keys          *SigningKeyStore
	Authenticator Authenticator

	// Signing strategy per token type; a configuration choice, never a
	// per-request one.
	IDTokenSigner     TokenSignerFunc
	BearerTokenSigner TokenSignerFunc
}

// OAuthService is the authorization/token protocol state machine. One
// instance is constructed at startup and shared by all requests.
type OAuthService struct {
	cfg OAuthServiceConfig
}

// NewOAuthService creates the protocol engine. Nil signers default to the
// per-client secret for ID tokens and the process key pair for bearer and
// guest tokens.
func NewOAuthService(cfg OAuthServiceConfig) *OAuthService {
	if cfg.IDTokenSigner == nil {
		cfg.IDTokenSigner = SecretKeySigner
	}
	if cfg.BearerTokenSigner == nil {
		cfg.BearerTokenSigner = KeyPairSigner
	}
	return &OAuthService{cfg: cfg}
}

// Sessions exposes the session manager for the API layer's cookie handling.
func (s *OAuthService) Sessions() *SessionManager {
	return s.cfg.Sessions
}

// Issuer returns the configured issuer identifier.
func (s *OAuthService) Issuer() string {
	return s.cfg.Issuer
}

// Authorize handles an authorization request for the given session and
// returns the redirect location: either the client's redirect URI with a
// fresh code, or the login form carrying a new form id when nobody is
// logged in yet.
func (s *OAuthService) Authorize(_ context.Context, sess *Session, req *AuthzRequest) (string, error) {
	if !s.cfg.Validator.CheckClientID(req.ClientID) {
		return "", ssoerrors.NewInvalidClient("Unknown client_id")
	}
	if !s.cfg.Validator.ValidateRedirect(req.ClientID, req.RedirectURI) {
		return "", ssoerrors.NewInvalidRequest("Redirect URI not allowed for this client")
	}
	if req.ResponseType != "code" {
		return "", ssoerrors.NewInvalidRequest("Unsupported response_type")
	}

	if sess.IsAuthenticated() {
		return s.issueAuthCode(sess.LoginName(), sess.UserID(), req)
	}

	formID := sess.StashPendingRequest(req)
	return loginFormURL(formID, ""), nil
}

// Login checks the submitted credentials against the authenticator. On
// success the session is marked authenticated and, if a form id resolves
// to a stashed authorization request, the flow resumes with a code
// redirect; otherwise a generic success page. Bad credentials send the
// user back to the login form with a failure flag and no hint about which
// field was wrong.
func (s *OAuthService) Login(ctx context.Context, sess *Session, username, password, formID string) (string, error) {
	userID, ok, err := s.cfg.Authenticator.ValidateCredentials(ctx, username, password)
	if err != nil {
		return "", fmt.Errorf("credential check failed: %w", err)
	}
	if !ok {
		log.Info().Str("username", username).Msg("failed login attempt")
		return loginFormURL(formID, "failed"), nil
	}

	sess.SetAuthenticated(username, userID)
	log.Info().Str("username", username).Msg("successful login")

	if formID != "" {
		if req, found := sess.TakePendingRequest(formID); found {
			return s.issueAuthCode(username, userID, req)
		}
	}
	return LoginSuccessPath, nil
}

// Logout invalidates the session, clearing every code and token its login
// owns, and returns where to send the browser: the requested redirect URI
// if its host belongs to some registered client, else the login form.
func (s *OAuthService) Logout(sessionID, redirectURI string) string {
	s.cfg.Sessions.Invalidate(sessionID)
	if redirectURI != "" && s.cfg.Validator.ValidLogoutRedirect(redirectURI) {
		return redirectURI
	}
	return loginFormURL("", "")
}

// Exchange handles the token endpoint. Only the authorization_code grant
// is supported; the code is consumed on success so it cannot be exchanged
// twice. When the server is configured to include user info, the ID-token
// claim set is embedded in the response without ever shadowing the
// standard token-response properties, and a signed id_token is attached.
func (s *OAuthService) Exchange(ctx context.Context, req TokenRequest) (map[string]any, error) {
	if !s.cfg.Validator.CheckClientID(req.ClientID) ||
		!s.cfg.Validator.CheckClientSecret(req.ClientID, req.ClientSecret) {
		return nil, ssoerrors.NewInvalidClient("Invalid client credentials")
	}
	if req.RedirectURI != "" && !s.cfg.Validator.ValidateRedirect(req.ClientID, req.RedirectURI) {
		return nil, ssoerrors.NewInvalidRequest("Redirect URI not allowed for this client")
	}

	if req.GrantType != "authorization_code" {
		log.Info().Str("grant_type", req.GrantType).Msg("rejecting unsupported grant type")
		return nil, ssoerrors.NewUnsupportedGrantType()
	}

	if !s.cfg.Tokens.IsValidAuthCode(req.Code, req.ClientID) {
		log.Info().Str("client_id", req.ClientID).Msg("rejecting token request with bad auth code")
		return nil, ssoerrors.NewBadAuthCode()
	}

	accessToken, err := generateOpaqueValue()
	if err != nil {
		return nil, fmt.Errorf("generating access token: %w", err)
	}
	tokenData, ok := s.cfg.Tokens.AddAccessToken(accessToken, req.Code)
	if !ok {
		// The code was swept or consumed between the gate and the redeem.
		return nil, ssoerrors.NewBadAuthCode()
	}

	response := map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(s.cfg.TokenTTL.Seconds()),
	}

	if s.cfg.IncludeUserInfoWithToken {
		if err := s.embedUserInfo(ctx, response, tokenData); err != nil {
			return nil, err
		}
	}
	return response, nil
}

// embedUserInfo adds the ID-token claim set and a signed id_token to a
// token response. The four standard token-response properties always win
// over claim names.
func (s *OAuthService) embedUserInfo(ctx context.Context, response map[string]any, tokenData *AccessTokenData) error {
	claims, err := s.cfg.Factory.TokenClaims(ctx, tokenData.AuthCode.LoginName,
		tokenData.AuthCode.IdTokenParams, s.cfg.Issuer, s.cfg.TokenTTL, ScopeIDToken)
	if err != nil {
		if goerrors.Is(err, ErrUnknownSubject) {
			log.Error().Str("login", tokenData.AuthCode.LoginName).
				Msg("issued code refers to a user the authenticator no longer knows")
			return ssoerrors.NewAccessDenied("Unknown token subject")
		}
		return err
	}

	signed, err := s.cfg.IDTokenSigner(s.cfg.Keys, claims, tokenData.AuthCode.ClientID)
	if err != nil {
		return fmt.Errorf("signing id token: %w", err)
	}
	response["id_token"] = signed

	for key, value := range claims {
		switch key {
		case "access_token", "token_type", "expires_in", "refresh_token":
			// reserved token-response properties
		default:
			response[key] = value
		}
	}
	return nil
}

// GuestToken mints a signed bearer token for a fresh guest identity. The
// client must authenticate and be flagged for guest obtainment.
func (s *OAuthService) GuestToken(ctx context.Context, clientID, clientSecret string) (map[string]any, error) {
	if !s.cfg.Validator.ValidGuestTokenClient(clientID, clientSecret) {
		return nil, ssoerrors.NewInvalidClient("Client is not allowed to obtain guest tokens")
	}
	claims, err := s.cfg.Factory.GuestTokenClaims(ctx, clientID, s.cfg.Issuer, s.cfg.BearerTokenTTL)
	if err != nil {
		if goerrors.Is(err, ErrGuestsUnsupported) {
			return nil, ssoerrors.NewInvalidRequest("This token service does not support guest tokens")
		}
		return nil, err
	}
	signed, err := s.cfg.BearerTokenSigner(s.cfg.Keys, claims, clientID)
	if err != nil {
		return nil, fmt.Errorf("signing guest token: %w", err)
	}
	return map[string]any{
		"access_token": signed,
		"token_type":   "Bearer",
		"expires_in":   int(s.cfg.BearerTokenTTL.Seconds()),
	}, nil
}

// UserInfo resolves a bearer access token to the owner's profile claims.
func (s *OAuthService) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	loginName, ok := s.cfg.Tokens.UserForToken(accessToken)
	if !ok {
		return nil, ssoerrors.NewInvalidToken("Invalid or expired access token")
	}
	claims, err := s.cfg.Factory.ProfileClaims(ctx, loginName)
	if err != nil {
		if goerrors.Is(err, ErrUnknownSubject) {
			log.Error().Str("login", loginName).
				Msg("access token refers to a user the authenticator no longer knows")
			return nil, ssoerrors.NewAccessDenied("Unknown token subject")
		}
		return nil, err
	}
	return claims, nil
}

// issueAuthCode generates an unpredictable opaque code, records it, and
// builds the client redirect with the code, the echoed state, and an
// expiry hint.
func (s *OAuthService) issueAuthCode(loginName, userID string, req *AuthzRequest) (string, error) {
	code, err := generateOpaqueValue()
	if err != nil {
		return "", fmt.Errorf("generating authorization code: %w", err)
	}

	s.cfg.Tokens.AddAuthCode(AuthCodeData{
		IdTokenParams: NewIdTokenParams(req.ClientID, req.Nonce),
		Code:          code,
		LoginName:     loginName,
		UserID:        userID,
	})

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "", ssoerrors.NewInvalidRequest("Malformed redirect URI")
	}
	query := redirect.Query()
	query.Set("code", code)
	if req.State != "" {
		query.Set("state", req.State)
	}
	query.Set("expires_in", strconv.Itoa(int(s.cfg.TokenTTL.Seconds())))
	redirect.RawQuery = query.Encode()

	log.Info().Str("client_id", req.ClientID).Str("login", loginName).Msg("issued authorization code")
	return redirect.String(), nil
}

func loginFormURL(formID, status string) string {
	query := url.Values{}
	if formID != "" {
		query.Set(FormIDParam, formID)
	}
	if status != "" {
		query.Set("status", status)
	}
	if len(query) == 0 {
		return LoginFormPath
	}
	return LoginFormPath + "?" + query.Encode()
}

// generateOpaqueValue returns a cryptographically unpredictable URL-safe
// string used for authorization codes and access tokens.
func generateOpaqueValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
