package echo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oauth "github.com/veupathdb/oauth-server"
	"github.com/veupathdb/oauth-server/authenticators"
)

const (
	testIssuer = "https://auth.example.org"
	testSeed   = "a-perfectly-reasonable-key-seed"
)

var (
	secretA = strings.Repeat("a", 64)
	secretB = strings.Repeat("b", 64)
)

type apiFixture struct {
	e      *echo.Echo
	cookie *http.Cookie
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	auth, err := authenticators.NewMemoryAuthenticator(map[string]any{
		"signature_key": "test-signature-key",
		"allow_guests":  true,
		"users": []any{
			map[string]any{
				"username":       "jdoe",
				"user_id":        "101",
				"password":       "hunter2",
				"email":          "jdoe@example.org",
				"email_verified": true,
			},
		},
	})
	require.NoError(t, err)

	keys, err := oauth.NewSigningKeyStore(testSeed)
	require.NoError(t, err)
	require.NoError(t, keys.AddClientSecret("clientA", secretA))
	require.NoError(t, keys.AddClientSecret("clientB", secretB))

	validator, err := oauth.NewClientValidator([]oauth.AllowedClient{
		{ID: "clientA", Secret: secretA, Domains: []string{"app.example.org"}},
		{ID: "clientB", Secret: secretB, Domains: []string{"guest.example.org"}, AllowGuestTokens: true},
	}, true)
	require.NoError(t, err)

	tokens := oauth.NewTokenStore()
	t.Cleanup(func() { tokens.Close() })
	sessions := oauth.NewSessionManager(time.Minute, tokens)
	t.Cleanup(func() { sessions.Close() })

	service := oauth.NewOAuthService(oauth.OAuthServiceConfig{
		Issuer:                   testIssuer,
		TokenTTL:                 5 * time.Minute,
		BearerTokenTTL:           time.Hour,
		IncludeUserInfoWithToken: true,
		Validator:                validator,
		Sessions:                 sessions,
		Tokens:                   tokens,
		Factory:                  oauth.NewTokenFactory(auth),
		Keys:                     keys,
		Authenticator:            auth,
	})

	e := echo.New()
	NewOAuth2API(service, oauth.NewJWKSService(keys)).RegisterRoutes(e)
	return &apiFixture{e: e}
}

// do performs a request, carrying the fixture's session cookie and
// capturing any replacement the server sets.
func (fx *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	if fx.cookie != nil {
		req.AddCookie(fx.cookie)
	}
	rec := httptest.NewRecorder()
	fx.e.ServeHTTP(rec, req)
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookieName && cookie.MaxAge >= 0 {
			fx.cookie = cookie
		}
	}
	return rec
}

func (fx *apiFixture) authorize(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet,
		"/authorize?client_id=clientA&redirect_uri="+url.QueryEscape("https://app.example.org/cb")+
			"&response_type=code&state=xyz&nonce=n1", nil)
	rec := fx.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	return rec.Header().Get("Location")
}

func (fx *apiFixture) login(t *testing.T, formID, username, password string) string {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	target := oauth.LoginFormPath
	if formID != "" {
		target += "?" + oauth.FormIDParam + "=" + url.QueryEscape(formID)
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := fx.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	return rec.Header().Get("Location")
}

func (fx *apiFixture) exchange(t *testing.T, form url.Values) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := fx.do(req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func formIDFrom(t *testing.T, location string) string {
	t.Helper()
	parsed, err := url.Parse(location)
	require.NoError(t, err)
	formID := parsed.Query().Get(oauth.FormIDParam)
	require.NotEmpty(t, formID)
	return formID
}

func codeFrom(t *testing.T, location string) string {
	t.Helper()
	parsed, err := url.Parse(location)
	require.NoError(t, err)
	code := parsed.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func TestAuthorizationCodeFlow(t *testing.T) {
	fx := newAPIFixture(t)

	// Unauthenticated authorize lands on the login form.
	location := fx.authorize(t)
	assert.True(t, strings.HasPrefix(location, oauth.LoginFormPath))
	formID := formIDFrom(t, location)
	require.NotNil(t, fx.cookie, "a session cookie is set")

	// Logging in resumes the flow and redirects back to the client.
	location = fx.login(t, formID, "jdoe", "hunter2")
	assert.True(t, strings.HasPrefix(location, "https://app.example.org/cb"))
	code := codeFrom(t, location)
	parsed, _ := url.Parse(location)
	assert.Equal(t, "xyz", parsed.Query().Get("state"))

	// The code exchanges for an access token with embedded user info.
	rec, body := fx.exchange(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"clientA"},
		"client_secret": {secretA},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "101", body["sub"])
	assert.Equal(t, "jdoe@example.org", body["email"])
	assert.NotEmpty(t, body["id_token"])

	accessToken, ok := body["access_token"].(string)
	require.True(t, ok)

	// The access token resolves the user's profile.
	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rec2 := fx.do(req)
	require.Equal(t, http.StatusOK, rec2.Code)
	var profile map[string]any
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &profile))
	assert.Equal(t, "101", profile["sub"])

	// The code was consumed by the first exchange.
	rec3, body3 := fx.exchange(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"client_id":     {"clientA"},
		"client_secret": {secretA},
	})
	assert.Equal(t, http.StatusBadRequest, rec3.Code)
	assert.Equal(t, "invalid_grant", body3["error"])
}

func TestAuthorizeAlreadyAuthenticated(t *testing.T) {
	fx := newAPIFixture(t)

	location := fx.authorize(t)
	fx.login(t, formIDFrom(t, location), "jdoe", "hunter2")

	// A second authorize on the same session skips the login form.
	location = fx.authorize(t)
	assert.True(t, strings.HasPrefix(location, "https://app.example.org/cb"))
	codeFrom(t, location)
}

func TestLoginFailureRedirectsBack(t *testing.T) {
	fx := newAPIFixture(t)

	location := fx.authorize(t)
	formID := formIDFrom(t, location)

	location = fx.login(t, formID, "jdoe", "wrong")
	assert.True(t, strings.HasPrefix(location, oauth.LoginFormPath))
	assert.Contains(t, location, "status=failed")

	// The stashed request survives a failed attempt.
	location = fx.login(t, formID, "jdoe", "hunter2")
	assert.True(t, strings.HasPrefix(location, "https://app.example.org/cb"))
}

func TestLoginFormIDFromReferer(t *testing.T) {
	fx := newAPIFixture(t)

	location := fx.authorize(t)
	formID := formIDFrom(t, location)

	form := url.Values{"username": {"jdoe"}, "password": {"hunter2"}}
	req := httptest.NewRequest(http.MethodPost, oauth.LoginFormPath, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.Header.Set("Referer", "https://auth.example.org/login?"+oauth.FormIDParam+"="+formID)
	rec := fx.do(req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://app.example.org/cb"))
}

func TestLoginFormRendering(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(httptest.NewRequest(http.MethodGet, "/login?form_id=f1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/login?form_id=f1"`)
	assert.NotContains(t, rec.Body.String(), "Login failed")

	rec = fx.do(httptest.NewRequest(http.MethodGet, "/login?status=failed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Login failed")
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	fx := newAPIFixture(t)

	location := fx.authorize(t)
	location = fx.login(t, formIDFrom(t, location), "jdoe", "hunter2")
	code := codeFrom(t, location)

	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.SetBasicAuth("clientA", secretA)
	rec := fx.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenEndpointBadClient(t *testing.T) {
	fx := newAPIFixture(t)

	rec, body := fx.exchange(t, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {"whatever"},
		"client_id":     {"clientA"},
		"client_secret": {"wrong"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", body["error"])
}

func TestGuestTokenEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	form := url.Values{"client_id": {"clientB"}, "client_secret": {secretB}}
	req := httptest.NewRequest(http.MethodPost, "/guest-token", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := fx.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Bearer", body["token_type"])
	token, _ := body["access_token"].(string)
	assert.Equal(t, 3, len(strings.Split(token, ".")), "guest tokens are signed JWTs")
}

func TestGuestTokenDisallowedClient(t *testing.T) {
	fx := newAPIFixture(t)

	form := url.Values{"client_id": {"clientA"}, "client_secret": {secretA}}
	req := httptest.NewRequest(http.MethodPost, "/guest-token", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := fx.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUserEndpointRejectsMissingToken(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(httptest.NewRequest(http.MethodGet, "/user", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/user", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = fx.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	location := fx.authorize(t)
	fx.login(t, formIDFrom(t, location), "jdoe", "hunter2")

	req := httptest.NewRequest(http.MethodGet,
		"/logout?redirect_uri="+url.QueryEscape("https://app.example.org/bye"), nil)
	rec := fx.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://app.example.org/bye", rec.Header().Get("Location"))

	// The session cookie is cleared.
	cleared := false
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestDiscoveryDocuments(t *testing.T) {
	fx := newAPIFixture(t)

	rec := fx.do(httptest.NewRequest(http.MethodGet, "/.well-known/openid-configuration", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var discovery map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &discovery))
	assert.Equal(t, testIssuer, discovery["issuer"])
	assert.Contains(t, discovery["token_endpoint"], "/token")

	rec = fx.do(httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var jwks struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jwks))
	require.Len(t, jwks.Keys, 1)
	assert.Equal(t, "EC", jwks.Keys[0]["kty"])
	assert.Equal(t, "ES512", jwks.Keys[0]["alg"])
	assert.Equal(t, "P-521", jwks.Keys[0]["crv"])
	assert.NotEmpty(t, jwks.Keys[0]["x"])
	assert.NotEmpty(t, jwks.Keys[0]["y"])
}
