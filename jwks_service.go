package oauth

// JSONWebKey describes one verification key in JWKS form. Only the EC
// members are used; symmetric client secrets are never published.
type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JSONWebKeySet is the document served from the JWKS endpoint.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JWKSService publishes the asymmetric verification key so relying parties
// can verify ES512 signatures without contacting the issuer per request.
// The key material is immutable for the process lifetime, so the document
// is assembled once.
type JWKSService struct {
	document JSONWebKeySet
}

// NewJWKSService builds the published key set from the signing key store.
func NewJWKSService(keys *SigningKeyStore) *JWKSService {
	coords := PublicKeyCoordinates(keys.PublicKey())
	return &JWKSService{
		document: JSONWebKeySet{
			Keys: []JSONWebKey{
				{
					Kid: "1",
					Kty: "EC",
					Alg: "ES512",
					Use: "sig",
					Crv: "P-521",
					X:   coords.X,
					Y:   coords.Y,
				},
			},
		},
	}
}

// JWKS returns the published key set.
func (s *JWKSService) JWKS() JSONWebKeySet {
	return s.document
}
