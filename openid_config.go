package oauth

// OpenIDConfiguration is the discovery document served from
// /.well-known/openid-configuration.
//
//nolint:tagliatelle
type OpenIDConfiguration struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	JwksURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// NewOpenIDConfiguration builds the discovery document for the given base
// URL (scheme://host of this server) and issuer.
func NewOpenIDConfiguration(issuer, baseURL string) OpenIDConfiguration {
	return OpenIDConfiguration{
		Issuer:                issuer,
		AuthorizationEndpoint: baseURL + "/authorize",
		TokenEndpoint:         baseURL + "/token",
		UserInfoEndpoint:      baseURL + "/user",
		EndSessionEndpoint:    baseURL + "/logout",
		JwksURI:               baseURL + "/.well-known/jwks.json",
		ScopesSupported:       []string{"openid", "profile", "email"},
		ResponseTypesSupported: []string{
			"code",
		},
		GrantTypesSupported:               []string{"authorization_code"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"HS512", "ES512"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		ClaimsSupported: []string{
			ClaimSubject, ClaimIssuer, ClaimAudience, ClaimAuthTime, ClaimIsGuest,
			ClaimEmail, ClaimEmailVerified, ClaimPreferredUsername, ClaimSignature,
		},
	}
}
