package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/session"
)

func TestGenerateKeysMintAndInspect(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, generateKeys(dir, defaultKeyBits))

	for _, name := range []string{signaturePrivateFile, signaturePublicFile, encryptionPrivateFile, encryptionPublicFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), name)
	}

	codec, err := loadCodec(dir)
	require.NoError(t, err)

	id := Identity{AuthID: "auth-1", UserID: "user-1", Email: "chef@example.com", Roles: []string{"USER", "ADMIN"}}
	minted, err := mintToken(codec, id, models.TokenTypeAccess, time.Hour)
	require.NoError(t, err)

	claims, err := codec.Parse(minted)
	require.NoError(t, err)
	assert.Equal(t, "auth-1", claims.AuthID)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, []string{"USER", "ADMIN"}, claims.Roles)
	assert.Equal(t, models.TokenTypeAccess, claims.TokenType)
}

func TestMintTokenRejectsUnknownType(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, generateKeys(dir, defaultKeyBits))
	codec, err := loadCodec(dir)
	require.NoError(t, err)

	_, err = mintToken(codec, Identity{UserID: "user-1"}, models.TokenType("ID"), 0)
	assert.Error(t, err)
}

func TestCreateSession(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	store := session.NewMemoryStore(logger)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now().UTC()
	s, err := createSession(context.Background(), store, Identity{UserID: "user-1", Email: "chef@example.com"}, time.Hour, now)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.True(t, s.Valid(now))

	stored, err := store.Lookup(context.Background(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "user-1", stored.UserID)

	_, err = createSession(context.Background(), store, Identity{}, time.Hour, now)
	assert.Error(t, err)
}

func TestRunRejectsUnknownAction(t *testing.T) {
	assert.Error(t, run("rotate", options{}))
	assert.Error(t, run("genkeys", options{}))
	assert.Error(t, run("session-revoke", options{}))
}

func TestParseStringList(t *testing.T) {
	assert.Nil(t, parseStringList(""))
	assert.Equal(t, []string{"USER", "ADMIN"}, parseStringList("USER, ADMIN"))
}
