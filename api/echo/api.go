//nolint:varnamelen
package echo

import (
	goerrors "errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	oauth "github.com/veupathdb/oauth-server"
	ssoerrors "github.com/veupathdb/oauth-server/errors"
)

// SessionCookieName is the cookie carrying the opaque session id.
const SessionCookieName = "oauth_session"

// OAuth2API struct to hold dependencies.
type OAuth2API struct {
	service     *oauth.OAuthService
	jwksService *oauth.JWKSService
}

// NewOAuth2API initializes the OAuth2 API.
func NewOAuth2API(service *oauth.OAuthService, jwksService *oauth.JWKSService) *OAuth2API {
	return &OAuth2API{
		service:     service,
		jwksService: jwksService,
	}
}

// RegisterRoutes registers the OAuth2 routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.GET("/authorize", oa.AuthorizeHandler)
	e.GET(oauth.LoginFormPath, oa.LoginFormHandler)
	e.POST(oauth.LoginFormPath, oa.LoginHandler)
	e.GET(oauth.LoginSuccessPath, oa.LoginSuccessHandler)
	e.GET("/logout", oa.LogoutHandler)
	e.POST("/token", oa.TokenHandler)
	e.POST("/guest-token", oa.GuestTokenHandler)
	e.GET("/user", oa.UserInfoHandler)

	// OpenID Configuration endpoints
	e.GET("/.well-known/openid-configuration", oa.OpenIDConfigurationHandler)
	e.GET("/.well-known/jwks.json", oa.JWKSHandler)
}

// AuthorizeHandler handles OAuth 2.0 authorization requests. It resolves
// the browser session from the cookie (creating one as needed) and either
// redirects to the client with a fresh code or to the login form.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	sess := oa.sessionFor(c)

	req := &oauth.AuthzRequest{
		ClientID:     c.QueryParam("client_id"),
		RedirectURI:  c.QueryParam("redirect_uri"),
		ResponseType: c.QueryParam("response_type"),
		State:        c.QueryParam("state"),
		Nonce:        c.QueryParam("nonce"),
		Scopes:       strings.Fields(c.QueryParam("scope")),
	}

	location, err := oa.service.Authorize(c.Request().Context(), sess, req)
	if err != nil {
		return oauthErrorResponse(c, err)
	}
	return c.Redirect(http.StatusFound, location)
}

var loginFormTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Log In</title></head>
<body>
{{if .Failed}}<p>Login failed. Please check your credentials and try again.</p>{{end}}
<form method="post" action="{{.Action}}">
<label>Username <input type="text" name="username" autofocus></label>
<label>Password <input type="password" name="password"></label>
<button type="submit">Log In</button>
</form>
</body>
</html>
`))

// LoginFormHandler serves the minimal built-in login page. The form id
// from the authorization flow is preserved in the form action so the
// submission can resume the stashed request.
func (oa *OAuth2API) LoginFormHandler(c echo.Context) error {
	action := oauth.LoginFormPath
	if formID := c.QueryParam(oauth.FormIDParam); formID != "" {
		action += "?" + oauth.FormIDParam + "=" + url.QueryEscape(formID)
	}
	data := struct {
		Action string
		Failed bool
	}{
		Action: action,
		Failed: c.QueryParam("status") == "failed",
	}

	var buf strings.Builder
	if err := loginFormTemplate.Execute(&buf, data); err != nil {
		log.Error().Err(err).Msg("failed to render login form")
		return c.JSON(http.StatusInternalServerError, ssoerrors.NewServerError("Failed to render login form"))
	}
	return c.HTML(http.StatusOK, buf.String())
}

// LoginHandler handles credential submissions from the login form.
func (oa *OAuth2API) LoginHandler(c echo.Context) error {
	sess := oa.sessionFor(c)

	username := c.FormValue("username")
	password := c.FormValue("password")
	formID := c.QueryParam(oauth.FormIDParam)
	if formID == "" {
		formID = c.FormValue(oauth.FormIDParam)
	}
	if formID == "" {
		// Some login pages submit without the form id in the action URL;
		// fall back to the referring page's query string.
		if referer, err := url.Parse(c.Request().Referer()); err == nil {
			formID = referer.Query().Get(oauth.FormIDParam)
		}
	}

	location, err := oa.service.Login(c.Request().Context(), sess, username, password, formID)
	if err != nil {
		log.Error().Err(err).Msg("login processing failed")
		return c.JSON(http.StatusInternalServerError, ssoerrors.NewServerError("Login could not be processed"))
	}
	return c.Redirect(http.StatusFound, location)
}

// LoginSuccessHandler is the landing page for logins that did not start
// from an authorization request.
func (oa *OAuth2API) LoginSuccessHandler(c echo.Context) error {
	return c.HTML(http.StatusOK, "<html><body><p>You are now logged in.</p></body></html>")
}

// LogoutHandler ends the browser session and invalidates every code and
// token belonging to its login.
func (oa *OAuth2API) LogoutHandler(c echo.Context) error {
	sessionID := ""
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		sessionID = cookie.Value
	}

	location := oa.service.Logout(sessionID, c.QueryParam("redirect_uri"))

	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return c.Redirect(http.StatusFound, location)
}

// TokenHandler handles the token endpoint. Client credentials are taken
// from the form body, falling back to HTTP Basic authentication.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	req := oauth.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		ClientID:     c.FormValue("client_id"),
		ClientSecret: c.FormValue("client_secret"),
	}
	if req.ClientID == "" {
		if id, secret, ok := c.Request().BasicAuth(); ok {
			req.ClientID = id
			req.ClientSecret = secret
		}
	}

	response, err := oa.service.Exchange(c.Request().Context(), req)
	if err != nil {
		return oauthErrorResponse(c, err)
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("Pragma", "no-cache")
	return c.JSON(http.StatusOK, response)
}

// GuestTokenHandler mints a bearer token for a fresh guest identity.
func (oa *OAuth2API) GuestTokenHandler(c echo.Context) error {
	clientID := c.FormValue("client_id")
	clientSecret := c.FormValue("client_secret")
	if clientID == "" {
		if id, secret, ok := c.Request().BasicAuth(); ok {
			clientID = id
			clientSecret = secret
		}
	}

	response, err := oa.service.GuestToken(c.Request().Context(), clientID, clientSecret)
	if err != nil {
		return oauthErrorResponse(c, err)
	}

	c.Response().Header().Set("Cache-Control", "no-store")
	return c.JSON(http.StatusOK, response)
}

// UserInfoHandler resolves a bearer access token to its owner's profile.
func (oa *OAuth2API) UserInfoHandler(c echo.Context) error {
	accessToken := bearerToken(c.Request().Header.Get("Authorization"))
	if accessToken == "" {
		return c.JSON(http.StatusUnauthorized, ssoerrors.NewInvalidToken("Missing bearer token"))
	}

	claims, err := oa.service.UserInfo(c.Request().Context(), accessToken)
	if err != nil {
		return oauthErrorResponse(c, err)
	}
	return c.JSON(http.StatusOK, claims)
}

// OpenIDConfigurationHandler serves the discovery document.
func (oa *OAuth2API) OpenIDConfigurationHandler(c echo.Context) error {
	scheme := c.Scheme()
	if forwarded := c.Request().Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	baseURL := scheme + "://" + c.Request().Host
	return c.JSON(http.StatusOK, oauth.NewOpenIDConfiguration(oa.service.Issuer(), baseURL))
}

// JWKSHandler serves the published verification keys.
func (oa *OAuth2API) JWKSHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, oa.jwksService.JWKS())
}

// sessionFor resolves the request's session from the cookie, creating a
// fresh session (and setting the cookie) when none exists.
func (oa *OAuth2API) sessionFor(c echo.Context) *oauth.Session {
	cookieValue := ""
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		cookieValue = cookie.Value
	}

	id, sess := oa.service.Sessions().GetOrCreate(cookieValue)
	if id != cookieValue {
		c.SetCookie(&http.Cookie{
			Name:     SessionCookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// oauthErrorResponse maps protocol errors to their HTTP status: 401 for
// client-credential and token problems, 400 for the rest. Anything that is
// not a protocol error is logged and hidden behind a generic 500.
func oauthErrorResponse(c echo.Context, err error) error {
	var oauthErr *ssoerrors.OAuth2Error
	if goerrors.As(err, &oauthErr) {
		status := http.StatusBadRequest
		switch oauthErr.Code {
		case ssoerrors.InvalidClient, ssoerrors.InvalidToken, ssoerrors.AccessDenied:
			status = http.StatusUnauthorized
		}
		return c.JSON(status, oauthErr)
	}
	log.Error().Err(err).Str("path", c.Path()).Msg("internal error handling request")
	return c.JSON(http.StatusInternalServerError, ssoerrors.NewServerError("Internal server error"))
}
