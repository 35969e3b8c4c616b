package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/tokenward/core"
	"github.com/layer-3/tokenward/ports"
)

// DefaultAlgorithm is used when no algorithm is configured
const DefaultAlgorithm = "HS256"

var errEmptyKey = errors.New("empty signing key")

// JWTTokenizer implements the Tokenizer interface using HMAC-signed JWTs
type JWTTokenizer struct {
	method jwt.SigningMethod
	issuer string
	leeway time.Duration
	now    func() time.Time
}

var _ ports.Tokenizer = (*JWTTokenizer)(nil)

// Option configures a JWTTokenizer
type Option func(*JWTTokenizer)

// WithIssuer stamps issued tokens with iss and requires it on verification
func WithIssuer(issuer string) Option {
	return func(t *JWTTokenizer) { t.issuer = issuer }
}

// WithLeeway tolerates clock skew when checking expiry
func WithLeeway(d time.Duration) Option {
	return func(t *JWTTokenizer) { t.leeway = d }
}

// WithClock replaces time.Now for expiry checks
func WithClock(now func() time.Time) Option {
	return func(t *JWTTokenizer) { t.now = now }
}

// NewJWTTokenizer creates a new JWT tokenizer for one of HS256, HS384 or HS512
func NewJWTTokenizer(algorithm string, opts ...Option) (*JWTTokenizer, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}

	var method jwt.SigningMethod
	switch algorithm {
	case "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}

	t := &JWTTokenizer{method: method, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Algorithm returns the JWS alg header value of issued tokens
func (j *JWTTokenizer) Algorithm() string {
	return j.method.Alg()
}

// Issue signs claims with key
func (j *JWTTokenizer) Issue(claims core.Claims, key []byte) (string, error) {
	if len(key) == 0 {
		return "", errEmptyKey
	}

	token := jwt.NewWithClaims(j.method, newTokenClaims(claims, j.issuer))

	signedToken, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", claims.Type, err)
	}

	return signedToken, nil
}

// Verify parses tokenStr, checks its signature with key and then its expiry.
// Expired tokens with a valid signature return their claims alongside core.ErrExpired.
func (j *JWTTokenizer) Verify(tokenStr string, key []byte) (core.Claims, error) {
	if len(key) == 0 {
		return core.Claims{}, fmt.Errorf("%w: %w", core.ErrBadSignature, errEmptyKey)
	}

	claims := &TokenClaims{}
	_, err := j.parser().ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return core.Claims{}, fmt.Errorf("%w: %w", core.ErrMalformedToken, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return core.Claims{}, fmt.Errorf("%w: %w", core.ErrBadSignature, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			if !claims.wellFormed() {
				return core.Claims{}, fmt.Errorf("%w: incomplete claims", core.ErrMalformedToken)
			}
			return claims.domain(), fmt.Errorf("%w: %w", core.ErrExpired, err)
		default:
			// Missing exp, wrong issuer, iat in the future and friends
			return core.Claims{}, fmt.Errorf("%w: %w", core.ErrMalformedToken, err)
		}
	}

	if !claims.wellFormed() {
		return core.Claims{}, fmt.Errorf("%w: incomplete claims", core.ErrMalformedToken)
	}

	return claims.domain(), nil
}

func (j *JWTTokenizer) parser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{j.method.Alg()}),
		jwt.WithLeeway(j.leeway),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	return jwt.NewParser(opts...)
}
