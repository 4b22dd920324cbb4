package azblobproxy

import "slices"

// The ways an azblob proxy can obtain credentials. All but
// AuthMethodSharedKey produce an azcore.TokenCredential.
const (
	AuthMethodClientCertificate     = "client_certificate"
	AuthMethodClientSecret          = "client_secret"
	AuthMethodEnvironmentCredential = "environment_credential"
	AuthMethodSharedKey             = "shared_key"
	AuthMethodDefault               = "default"
)

// AuthMethods lists the accepted values of azblob_proxy.auth_method.
var AuthMethods = []string{
	AuthMethodClientCertificate,
	AuthMethodClientSecret,
	AuthMethodEnvironmentCredential,
	AuthMethodSharedKey,
	AuthMethodDefault,
}

func ValidAuthMethod(m string) bool {
	return slices.Contains(AuthMethods, m)
}
