package token_test

import (
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/token"
)

var (
	keysOnce       sync.Once
	signatureKey   *rsa.PrivateKey
	encryptionKey  *rsa.PrivateKey
	strangerKey    *rsa.PrivateKey
	errGenerateKey error
)

// testKeys generates the RSA keys shared by the package tests once.
func testKeys(t *testing.T) (sig, enc, other *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		if signatureKey, errGenerateKey = rsa.GenerateKey(rand.Reader, 2048); errGenerateKey != nil {
			return
		}
		if encryptionKey, errGenerateKey = rsa.GenerateKey(rand.Reader, 2048); errGenerateKey != nil {
			return
		}
		strangerKey, errGenerateKey = rsa.GenerateKey(rand.Reader, 2048)
	})
	require.NoError(t, errGenerateKey)
	return signatureKey, encryptionKey, strangerKey
}

func testKeySet(t *testing.T) *token.KeySet {
	sig, enc, _ := testKeys(t)
	return &token.KeySet{
		SignaturePrivate:  sig,
		SignaturePublic:   &sig.PublicKey,
		EncryptionPrivate: enc,
		EncryptionPublic:  &enc.PublicKey,
	}
}

func testKeysConfig(encrypt bool) *config.KeysConfig {
	return &config.KeysConfig{
		EncryptionEnabled:  encrypt,
		Issuer:             "restaurant-auth",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
	}
}

func newTestCodec(t *testing.T, encrypt bool) *token.Codec {
	return token.NewCodec(token.NewKeyring(testKeySet(t)), testKeysConfig(encrypt))
}
