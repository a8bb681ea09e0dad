package token

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
)

// KeySet is the immutable pair of RSA key pairs used by the codec. The
// signature pair signs and verifies the inner token; the encryption pair
// wraps and unwraps the content key of the outer envelope. Private halves
// are optional for services that only verify or only decrypt.
type KeySet struct {
	SignaturePrivate  *rsa.PrivateKey
	SignaturePublic   *rsa.PublicKey
	EncryptionPrivate *rsa.PrivateKey
	EncryptionPublic  *rsa.PublicKey
}

// CanSign reports whether tokens can be issued.
func (k *KeySet) CanSign() bool {
	return k.SignaturePrivate != nil
}

// CanEncrypt reports whether envelopes can be produced.
func (k *KeySet) CanEncrypt() bool {
	return k.EncryptionPublic != nil
}

// CanDecrypt reports whether envelopes can be opened.
func (k *KeySet) CanDecrypt() bool {
	return k.EncryptionPrivate != nil
}

// Keyring holds the active KeySet. Rotation swaps the whole set at once so a
// request never sees keys from two different sets.
type Keyring struct {
	current atomic.Pointer[KeySet]
}

// NewKeyring creates a keyring holding ks.
func NewKeyring(ks *KeySet) *Keyring {
	k := &Keyring{}
	k.current.Store(ks)
	return k
}

// Current returns the active key set.
func (k *Keyring) Current() *KeySet {
	return k.current.Load()
}

// Rotate installs ks as the active key set.
func (k *Keyring) Rotate(ks *KeySet) {
	k.current.Store(ks)
}

// LoadKeySet parses the configured key material. Each key may be inline PEM,
// Base64 of PEM, Base64 of DER, or a file holding any of those; inline
// values win over files. Missing public halves are derived from the private
// ones. A missing signature public key, or a missing encryption private key
// while encryption is enabled, is a configuration error.
func LoadKeySet(cfg *config.KeysConfig) (*KeySet, error) {
	ks := &KeySet{}
	var err error

	if ks.SignaturePrivate, err = loadPrivate("signature private key", cfg.SignaturePrivateKey, cfg.SignaturePrivateKeyFile); err != nil {
		return nil, err
	}
	if ks.SignaturePublic, err = loadPublic("signature public key", cfg.SignaturePublicKey, cfg.SignaturePublicKeyFile); err != nil {
		return nil, err
	}
	if ks.EncryptionPrivate, err = loadPrivate("encryption private key", cfg.EncryptionPrivateKey, cfg.EncryptionPrivateKeyFile); err != nil {
		return nil, err
	}
	if ks.EncryptionPublic, err = loadPublic("encryption public key", cfg.EncryptionPublicKey, cfg.EncryptionPublicKeyFile); err != nil {
		return nil, err
	}

	if ks.SignaturePublic == nil && ks.SignaturePrivate != nil {
		ks.SignaturePublic = &ks.SignaturePrivate.PublicKey
	}
	if ks.EncryptionPublic == nil && ks.EncryptionPrivate != nil {
		ks.EncryptionPublic = &ks.EncryptionPrivate.PublicKey
	}

	if ks.SignaturePublic == nil {
		return nil, fmt.Errorf("%w: signature public key is required", models.ErrConfiguration)
	}
	if cfg.EncryptionEnabled && ks.EncryptionPrivate == nil {
		return nil, fmt.Errorf("%w: encryption private key is required when encryption is enabled", models.ErrConfiguration)
	}
	if ks.SignaturePrivate != nil && !ks.SignaturePrivate.PublicKey.Equal(ks.SignaturePublic) {
		return nil, fmt.Errorf("%w: signature key pair does not match", models.ErrConfiguration)
	}

	return ks, nil
}

// ParsePrivateKey parses an RSA private key in PKCS#1 or PKCS#8 form, given
// as PEM, Base64 of PEM or Base64 of DER.
func ParsePrivateKey(material []byte) (*rsa.PrivateKey, error) {
	der, err := decodeMaterial(material)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not an RSA key")
	}
	return key, nil
}

// ParsePublicKey parses an RSA public key in PKIX or PKCS#1 form, or the key
// of an X.509 certificate.
func ParsePublicKey(material []byte) (*rsa.PublicKey, error) {
	der, err := decodeMaterial(material)
	if err != nil {
		return nil, err
	}
	if parsed, err := x509.ParsePKIXPublicKey(der); err == nil {
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not an RSA key")
		}
		return key, nil
	}
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return key, nil
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.New("failed to parse public key: unsupported format")
	}
	key, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate key is not an RSA key")
	}
	return key, nil
}

// EncodePrivateKeyPEM encodes key as a PKCS#8 PEM block.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM encodes key as a PKIX PEM block.
func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func loadPrivate(name, inline, file string) (*rsa.PrivateKey, error) {
	material, err := readMaterial(inline, file)
	if err != nil || material == nil {
		return nil, wrapKeyError(name, err)
	}
	key, err := ParsePrivateKey(material)
	return key, wrapKeyError(name, err)
}

func loadPublic(name, inline, file string) (*rsa.PublicKey, error) {
	material, err := readMaterial(inline, file)
	if err != nil || material == nil {
		return nil, wrapKeyError(name, err)
	}
	key, err := ParsePublicKey(material)
	return key, wrapKeyError(name, err)
}

func wrapKeyError(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", models.ErrConfiguration, name, err)
}

func readMaterial(inline, file string) ([]byte, error) {
	if strings.TrimSpace(inline) != "" {
		return []byte(inline), nil
	}
	if file == "" {
		return nil, nil
	}
	// #nosec G304 -- key paths come from operator configuration
	data, err := os.ReadFile(filepath.Clean(file))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return data, nil
}

// decodeMaterial turns PEM, Base64 of PEM or Base64 of DER into DER bytes.
func decodeMaterial(material []byte) ([]byte, error) {
	trimmed := strings.TrimSpace(string(material))
	if strings.HasPrefix(trimmed, "-----BEGIN") {
		return decodePEM([]byte(trimmed))
	}

	compact := strings.Join(strings.Fields(trimmed), "")
	decoded, err := base64.StdEncoding.DecodeString(compact)
	if err != nil {
		if decoded, err = base64.RawStdEncoding.DecodeString(compact); err != nil {
			return nil, errors.New("key material is neither PEM nor Base64")
		}
	}
	if strings.HasPrefix(strings.TrimSpace(string(decoded)), "-----BEGIN") {
		return decodePEM(decoded)
	}
	return decoded, nil
}

func decodePEM(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid PEM block")
	}
	return block.Bytes, nil
}
