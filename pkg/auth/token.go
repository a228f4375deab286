package auth

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/tradeloop-backend/pkg/config"
)

var (
	signingMethod = jwt.SigningMethodHS256

	errSecretRequired = errors.New("jwt secret is required")
	errMissingUserID  = errors.New("token missing user_id")
)

// MintAccessToken signs a token for payload. Production tokens come from the
// identity provider; this is used by tooling and tests that share the secret.
func MintAccessToken(cfg config.JWTConfig, now time.Time, ttl time.Duration, payload AccessTokenPayload) (string, error) {
	if err := checkMint(cfg, ttl, payload); err != nil {
		return "", err
	}
	jti := cmp.Or(strings.TrimSpace(payload.JTI), uuid.NewString())

	token := jwt.NewWithClaims(signingMethod, AccessTokenClaims{
		UserID: payload.UserID,
		Email:  payload.Email,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	})
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// checkMint reports every problem with the inputs at once.
func checkMint(cfg config.JWTConfig, ttl time.Duration, payload AccessTokenPayload) error {
	var errs []error
	if cfg.Secret == "" {
		errs = append(errs, errSecretRequired)
	}
	if cfg.Issuer == "" {
		errs = append(errs, errors.New("jwt issuer is required"))
	}
	if ttl <= 0 {
		errs = append(errs, errors.New("jwt ttl must be positive"))
	}
	if payload.UserID == uuid.Nil {
		errs = append(errs, errors.New("user id is required"))
	}
	if !payload.Role.IsValid() {
		errs = append(errs, fmt.Errorf("invalid user role %q", payload.Role))
	}
	return errors.Join(errs...)
}

// ParseAccessToken verifies signature, issuer and expiry. cfg.Leeway absorbs
// clock skew between the identity provider and this service.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errSecretRequired
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	)
	claims := &AccessTokenClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}
	if claims.UserID == uuid.Nil {
		return nil, errMissingUserID
	}
	return claims, nil
}
