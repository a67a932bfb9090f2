package auth

import (
	"context"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// JWTValidator accepts HMAC-signed tokens whose subject is the claimed user id.
type JWTValidator struct {
	secret []byte
	method jwtlib.SigningMethod
}

// NewJWTValidator builds a validator for alg (HS256, HS384 or HS512; empty
// means HS256).
func NewJWTValidator(secret []byte, alg string) (*JWTValidator, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	method, err := signingMethod(alg)
	if err != nil {
		return nil, err
	}
	return &JWTValidator{secret: secret, method: method}, nil
}

// Validate implements Validator.
func (v *JWTValidator) Validate(_ context.Context, userID, token string) error {
	if token == "" {
		return errors.Wrap(ErrInvalidCredentials, "token required")
	}

	parsed, err := jwtlib.Parse(token, func(*jwtlib.Token) (interface{}, error) {
		return v.secret, nil
	}, jwtlib.WithValidMethods([]string{v.method.Alg()}), jwtlib.WithExpirationRequired())
	if err != nil {
		return errors.Wrapf(ErrInvalidCredentials, "parse token: %v", err)
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return errors.Wrapf(ErrInvalidCredentials, "read subject: %v", err)
	}
	if sub != userID {
		return errors.Wrap(ErrInvalidCredentials, "subject does not match user id")
	}
	return nil
}

// Issue signs a token for userID valid for ttl. It is used by tooling and
// tests that need a credential the JWTValidator accepts.
func Issue(secret []byte, alg, userID string, ttl time.Duration) (string, error) {
	method, err := signingMethod(alg)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	now := time.Now()
	claims := jwtlib.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwtlib.NewNumericDate(now),
		NotBefore: jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, errors.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
