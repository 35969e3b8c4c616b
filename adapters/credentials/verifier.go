package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/layer-3/tokenward/core"
	"github.com/layer-3/tokenward/ports"
	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used for new hashes
const DefaultCost = 12

// bcrypt ignores everything past 72 bytes
const maxPasswordBytes = 72

var ErrEmptyPassword = errors.New("password must not be empty")

// HashPassword will generate a password hash
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if cost == 0 {
		cost = DefaultCost
	}

	h, err := bcrypt.GenerateFromPassword(truncate(password), cost)
	return string(h), err
}

func truncate(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}

// Account is one entry of the credential directory
type Account struct {
	Identifier   string `json:"identifier"`
	Subject      string `json:"subject"`
	PasswordHash string `json:"password_hash"`
	Active       bool   `json:"active"`
}

// Directory is a read-mostly lookup of accounts by normalized identifier
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewDirectory creates a directory from accounts
func NewDirectory(accounts ...Account) *Directory {
	d := &Directory{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		d.Put(a)
	}
	return d
}

// LoadDirectory reads a JSON array of accounts
func LoadDirectory(r io.Reader) (*Directory, error) {
	var accounts []Account
	if err := json.NewDecoder(r).Decode(&accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	for i, a := range accounts {
		if a.Identifier == "" || a.PasswordHash == "" {
			return nil, fmt.Errorf("account %d: identifier and password_hash are required", i)
		}
	}
	return NewDirectory(accounts...), nil
}

// LoadDirectoryFile reads a JSON accounts file
func LoadDirectoryFile(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadDirectory(f)
}

// Put adds or replaces an account. An empty subject defaults to the identifier.
func (d *Directory) Put(a Account) {
	a.Identifier = normalize(a.Identifier)
	if a.Subject == "" {
		a.Subject = a.Identifier
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[a.Identifier] = a
}

// Lookup finds an account by identifier
func (d *Directory) Lookup(identifier string) (Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[normalize(identifier)]
	return a, ok
}

// Len returns the number of accounts
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.accounts)
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// PasswordVerifier checks passwords against the bcrypt or argon2id hashes
// stored in a Directory
type PasswordVerifier struct {
	dir       *Directory
	dummyHash []byte
}

var _ ports.CredentialVerifier = (*PasswordVerifier)(nil)

// NewPasswordVerifier creates a verifier. cost should match the cost of the
// stored hashes so unknown identifiers take as long as known ones.
func NewPasswordVerifier(dir *Directory, cost int) (*PasswordVerifier, error) {
	dummy, err := HashPassword(uuid.NewString(), cost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &PasswordVerifier{dir: dir, dummyHash: []byte(dummy)}, nil
}

// VerifyCredentials returns the subject of the account when secret matches.
// Inactive accounts are only reported once the password checks out.
func (v *PasswordVerifier) VerifyCredentials(ctx context.Context, identifier, secret string) (string, error) {
	account, ok := v.dir.Lookup(identifier)
	if !ok {
		_ = bcrypt.CompareHashAndPassword(v.dummyHash, truncate(secret))
		return "", core.ErrInvalidCredentials
	}

	if err := compareHash(account.PasswordHash, secret); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) || errors.Is(err, errArgon2Mismatch) {
			return "", core.ErrInvalidCredentials
		}
		return "", fmt.Errorf("%w: %w", core.ErrInvalidCredentials, err)
	}

	if !account.Active {
		return "", core.ErrAccountInactive
	}

	return account.Subject, nil
}

func compareHash(encoded, secret string) error {
	if isArgon2(encoded) {
		return compareArgon2(encoded, secret)
	}
	return bcrypt.CompareHashAndPassword([]byte(encoded), truncate(secret))
}
