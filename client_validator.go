package oauth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

// AllowedClient is a statically registered OAuth2 client. Immutable once
// loaded. An empty domain set means no redirect restriction for the client.
type AllowedClient struct {
	ID               string
	Secret           string
	Domains          []string
	AllowGuestTokens bool
}

// ClientValidator validates client credentials and, when domain validation
// is enabled, that redirect targets belong to a client's registered
// domains.
type ClientValidator struct {
	clients         map[string]AllowedClient
	validateDomains bool
}

// NewClientValidator indexes the allowed clients. Client ids must be
// unique and every client needs a non-empty id and secret.
func NewClientValidator(clients []AllowedClient, validateDomains bool) (*ClientValidator, error) {
	index := make(map[string]AllowedClient, len(clients))
	for _, client := range clients {
		if client.ID == "" || client.Secret == "" {
			return nil, fmt.Errorf("allowed client must have both an id and a secret (id %q)", client.ID)
		}
		if _, dup := index[client.ID]; dup {
			return nil, fmt.Errorf("more than one allowed client configured with id %q; client ids must be unique", client.ID)
		}
		index[client.ID] = client
	}
	return &ClientValidator{clients: index, validateDomains: validateDomains}, nil
}

// CheckClientID reports whether the id belongs to a registered client.
func (v *ClientValidator) CheckClientID(clientID string) bool {
	_, ok := v.clients[clientID]
	return ok
}

// CheckClientSecret reports whether the secret matches the registered
// client; unknown clients always fail. Secrets containing '%' are also
// compared URL-decoded, since some relying parties form-encode them and
// some do not. Issued secrets therefore must not contain literal '%'.
func (v *ClientValidator) CheckClientSecret(clientID, clientSecret string) bool {
	client, ok := v.clients[clientID]
	if !ok {
		return false
	}
	if client.Secret == clientSecret {
		return true
	}
	if strings.Contains(clientSecret, "%") {
		if decoded, err := url.QueryUnescape(clientSecret); err == nil && client.Secret == decoded {
			return true
		}
	}
	return false
}

// ValidateRedirect reports whether a redirect URI is acceptable for the
// client. Always true when domain validation is disabled or the client has
// no configured domains. A domain entry of the form "*.example.org"
// matches the root domain and any subdomain.
func (v *ClientValidator) ValidateRedirect(clientID, redirectURI string) bool {
	if !v.validateDomains {
		return true
	}
	client, ok := v.clients[clientID]
	if !ok {
		return false
	}
	if len(client.Domains) == 0 {
		return true
	}
	parsed, err := url.Parse(redirectURI)
	if err != nil || parsed.Hostname() == "" {
		log.Warn().Str("redirect_uri", redirectURI).Msg("unable to parse redirect URI")
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range client.Domains {
		domain = strings.ToLower(domain)
		if domain == host {
			return true
		}
		if strings.HasPrefix(domain, "*.") {
			if host == domain[2:] || strings.HasSuffix(host, domain[1:]) {
				return true
			}
		}
	}
	log.Debug().Str("client_id", clientID).Str("host", host).Msg("redirect URI host not in client domain set")
	return false
}

// ValidGuestTokenClient reports whether the credentials identify a client
// that is allowed to obtain guest tokens.
func (v *ClientValidator) ValidGuestTokenClient(clientID, clientSecret string) bool {
	client, ok := v.clients[clientID]
	return ok && v.CheckClientSecret(clientID, clientSecret) && client.AllowGuestTokens
}

// ValidLogoutRedirect reports whether a logout redirect URI lands on a
// domain registered for any client.
func (v *ClientValidator) ValidLogoutRedirect(redirectURI string) bool {
	for clientID := range v.clients {
		if v.ValidateRedirect(clientID, redirectURI) {
			return true
		}
	}
	return false
}

// Client returns the registered client for an id.
func (v *ClientValidator) Client(clientID string) (AllowedClient, bool) {
	client, ok := v.clients[clientID]
	return client, ok
}

// Clients returns all registered clients.
func (v *ClientValidator) Clients() []AllowedClient {
	out := make([]AllowedClient, 0, len(v.clients))
	for _, client := range v.clients {
		out = append(out, client)
	}
	return out
}
