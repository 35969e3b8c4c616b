package ports

import "context"

// CredentialVerifier checks primary credentials before a login.
// It returns the subject on success, core.ErrInvalidCredentials or
// core.ErrAccountInactive otherwise.
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, identifier, secret string) (string, error)
}
