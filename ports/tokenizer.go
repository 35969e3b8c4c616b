package ports

import "github.com/layer-3/tokenward/core"

// Tokenizer converts between claims and signed tokens.
// The signing key is passed on every call, implementations hold no key state.
type Tokenizer interface {
	// Issue signs claims with key
	Issue(claims core.Claims, key []byte) (string, error)

	// Verify checks the signature and expiry of token and returns its claims.
	// Errors wrap core.ErrMalformedToken, core.ErrBadSignature or core.ErrExpired.
	// On core.ErrExpired the returned claims are populated.
	Verify(token string, key []byte) (core.Claims, error)
}
