// Package token issues and validates the nested tokens of the gatekeeper.
//
// A token is an RS256-signed JWS (three compact parts) that, when encryption
// is enabled, is wrapped in a JWE (five compact parts) using RSA-OAEP-256 key
// wrapping and A256GCM content encryption. Validation always decrypts first
// and verifies second; expiry is only considered once the signature holds.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

const (
	// signedParts is the number of dot-separated parts of a compact JWS.
	signedParts = 3
	// encryptedParts is the number of dot-separated parts of a compact JWE.
	encryptedParts = 5
	// nestedContentType marks a JWE whose payload is itself a JWT.
	nestedContentType = "JWT"
)

// Claims is the JWT body of an issued token.
type Claims struct {
	AuthID    string           `json:"auth_id"`
	Email     string           `json:"email,omitempty"`
	Roles     []string         `json:"roles"`
	TokenType models.TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// Codec signs, encrypts, decrypts and verifies tokens with the keys of a
// Keyring. It holds no mutable state besides the keyring and is safe for
// concurrent use.
type Codec struct {
	keys          *Keyring
	issuer        string
	encrypt       bool
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	now           func() time.Time
}

// NewCodec creates a codec using the token settings of cfg.
func NewCodec(keys *Keyring, cfg *config.KeysConfig) *Codec {
	return &Codec{
		keys:          keys,
		issuer:        cfg.Issuer,
		encrypt:       cfg.EncryptionEnabled,
		accessExpiry:  cfg.AccessTokenExpiry,
		refreshExpiry: cfg.RefreshTokenExpiry,
		now:           time.Now,
	}
}

// WithClock returns a copy of the codec using now as its time source.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// EncryptionEnabled reports whether Mint and Parse use the encrypted envelope.
func (c *Codec) EncryptionEnabled() bool {
	return c.encrypt
}

// DefaultExpiry returns the configured lifetime for a token type.
func (c *Codec) DefaultExpiry(tokenType models.TokenType) time.Duration {
	if tokenType == models.TokenTypeRefresh {
		return c.refreshExpiry
	}
	return c.accessExpiry
}

// Issue signs claims as an RS256 JWS valid for expiry from its issue time.
// A zero IssuedAt is set to now and a missing token type defaults to ACCESS.
func (c *Codec) Issue(claims *models.TokenClaims, expiry time.Duration) (string, error) {
	keys := c.keys.Current()
	if !keys.CanSign() {
		return "", fmt.Errorf("%w: no signature private key loaded", models.ErrConfiguration)
	}
	if claims.UserID == "" {
		return "", errors.New("user id is required")
	}

	issuedAt := claims.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = c.now()
	}
	tokenType := claims.TokenType
	if tokenType == "" {
		tokenType = models.TokenTypeAccess
	}

	jwtClaims := Claims{
		AuthID:    claims.AuthID,
		Email:     claims.Email,
		Roles:     append([]string{}, claims.Roles...),
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    c.issuer,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(expiry)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, jwtClaims).SignedString(keys.SignaturePrivate)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Encrypt wraps a signed token in a compact JWE.
func (c *Codec) Encrypt(signed string) (string, error) {
	keys := c.keys.Current()
	if !keys.CanEncrypt() {
		return "", fmt.Errorf("%w: no encryption public key loaded", models.ErrConfiguration)
	}

	encrypter, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.RSA_OAEP_256, Key: keys.EncryptionPublic},
		(&jose.EncrypterOptions{}).WithContentType(nestedContentType),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter: %w", err)
	}

	object, err := encrypter.Encrypt([]byte(signed))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt token: %w", err)
	}
	return object.CompactSerialize()
}

// Decrypt opens a compact JWE and returns the signed token inside. Any
// failure, including a wrong key or modified ciphertext, is ErrSignature.
func (c *Codec) Decrypt(encrypted string) (string, error) {
	keys := c.keys.Current()
	if !keys.CanDecrypt() {
		return "", fmt.Errorf("%w: no encryption private key loaded", models.ErrConfiguration)
	}
	if partCount(encrypted) != encryptedParts {
		return "", fmt.Errorf("%w: encrypted token must have %d parts", models.ErrSignature, encryptedParts)
	}

	object, err := jose.ParseEncryptedCompact(
		encrypted,
		[]jose.KeyAlgorithm{jose.RSA_OAEP_256},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSignature, err)
	}

	plaintext, err := object.Decrypt(keys.EncryptionPrivate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrSignature, err)
	}
	return string(plaintext), nil
}

// Verify checks the RS256 signature of a compact JWS and returns its claims.
// Expiry is evaluated only after the signature verifies, so a tampered
// expired token reports ErrSignature rather than ErrTokenExpired.
func (c *Codec) Verify(signed string) (*models.TokenClaims, error) {
	keys := c.keys.Current()
	if partCount(signed) != signedParts {
		return nil, fmt.Errorf("%w: signed token must have %d parts", models.ErrSignature, signedParts)
	}

	parsed, err := jwt.ParseWithClaims(signed, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return keys.SignaturePublic, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrSignature, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid claims", models.ErrSignature)
	}
	if claims.ExpiresAt == nil || claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing required claims", models.ErrSignature)
	}
	switch claims.TokenType {
	case models.TokenTypeAccess, models.TokenTypeRefresh:
	default:
		return nil, fmt.Errorf("%w: unknown token type %q", models.ErrSignature, claims.TokenType)
	}

	out := &models.TokenClaims{
		AuthID:    claims.AuthID,
		UserID:    claims.Subject,
		Email:     claims.Email,
		Roles:     claims.Roles,
		TokenType: claims.TokenType,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}

	if out.Expired(c.now()) {
		return nil, fmt.Errorf("%w: expired at %s", models.ErrTokenExpired, out.ExpiresAt.Format(time.RFC3339))
	}
	return out, nil
}

// Mint issues a token and, when encryption is enabled, encrypts it.
func (c *Codec) Mint(claims *models.TokenClaims, expiry time.Duration) (string, error) {
	signed, err := c.Issue(claims, expiry)
	if err != nil {
		return "", err
	}
	if !c.encrypt {
		return signed, nil
	}
	return c.Encrypt(signed)
}

// Parse is the inverse of Mint. With encryption enabled only five-part
// tokens are accepted; a bare signed token is rejected.
func (c *Codec) Parse(token string) (*models.TokenClaims, error) {
	if !c.encrypt {
		return c.Verify(token)
	}
	if partCount(token) != encryptedParts {
		return nil, fmt.Errorf("%w: expected an encrypted token", models.ErrSignature)
	}
	signed, err := c.Decrypt(token)
	if err != nil {
		return nil, err
	}
	return c.Verify(signed)
}

func partCount(token string) int {
	if token == "" {
		return 0
	}
	return strings.Count(token, ".") + 1
}

// Mask shortens a token for logging.
func Mask(token string) string {
	if len(token) <= 16 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
