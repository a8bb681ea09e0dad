// Package main provides tokenctl, an operator tool around the gatekeeper
// token codec. It generates key pairs, mints and inspects nested tokens, and
// creates or revokes session records in Redis.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"

	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/config"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/models"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/session"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/internal/token"
	"github.com/nguyenkien1203/restaurant-microservices/gatekeeper/pkg/logger"
)

const (
	defaultKeyBits = 2048
	commandTimeout = 10 * time.Second
)

// Key file names written by genkeys and read with -keys-dir.
const (
	signaturePrivateFile  = "signature_private.pem"
	signaturePublicFile   = "signature_public.pem"
	encryptionPrivateFile = "encryption_private.pem"
	encryptionPublicFile  = "encryption_public.pem"
)

// Identity is the subject of a minted token or created session.
type Identity struct {
	AuthID string
	UserID string
	Email  string
	Roles  []string
}

func main() {
	var (
		action    = flag.String("action", "", "Action to perform: genkeys, mint, inspect, session-create, session-revoke")
		keysDir   = flag.String("keys-dir", "", "Directory holding PEM key files (overrides KEYS_* env)")
		bits      = flag.Int("bits", defaultKeyBits, "RSA key size for genkeys")
		userID    = flag.String("user", "", "User ID for mint/session-create")
		email     = flag.String("email", "", "User email for mint/session-create")
		roles     = flag.String("roles", "", "Comma-separated roles for mint")
		authID    = flag.String("auth-id", "", "Session ID for mint/session-revoke (mint generates one if empty)")
		tokenType = flag.String("type", string(models.TokenTypeAccess), "Token type for mint: ACCESS or REFRESH")
		ttl       = flag.Duration("ttl", 0, "Token or session lifetime (defaults from configuration)")
		raw       = flag.String("token", "", "Token to inspect (reads stdin when empty)")
	)
	flag.Parse()

	if err := run(*action, options{
		keysDir:   *keysDir,
		bits:      *bits,
		identity:  Identity{AuthID: *authID, UserID: *userID, Email: *email, Roles: parseStringList(*roles)},
		tokenType: models.TokenType(strings.ToUpper(*tokenType)),
		ttl:       *ttl,
		token:     *raw,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	keysDir   string
	bits      int
	identity  Identity
	tokenType models.TokenType
	ttl       time.Duration
	token     string
}

func run(action string, opts options) error {
	switch action {
	case "genkeys":
		if opts.keysDir == "" {
			return errors.New("-keys-dir is required for genkeys")
		}
		if err := generateKeys(opts.keysDir, opts.bits); err != nil {
			return err
		}
		fmt.Printf("Key pairs written to %s\n", opts.keysDir)
		return nil

	case "mint":
		codec, err := loadCodec(opts.keysDir)
		if err != nil {
			return err
		}
		if opts.identity.AuthID == "" {
			opts.identity.AuthID = uuid.New().String()
		}
		minted, err := mintToken(codec, opts.identity, opts.tokenType, opts.ttl)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "auth_id: %s\n", opts.identity.AuthID)
		fmt.Println(minted)
		return nil

	case "inspect":
		codec, err := loadCodec(opts.keysDir)
		if err != nil {
			return err
		}
		raw := opts.token
		if raw == "" {
			data, readErr := readStdin()
			if readErr != nil {
				return readErr
			}
			raw = data
		}
		claims, err := codec.Parse(raw)
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}
		return printJSON(claims)

	case "session-create":
		store, err := openRedisStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		ttl := opts.ttl
		if ttl == 0 {
			ttl = 24 * time.Hour
		}
		s, err := createSession(ctx, store, opts.identity, ttl, time.Now().UTC())
		if err != nil {
			return err
		}
		return printJSON(s)

	case "session-revoke":
		if opts.identity.AuthID == "" {
			return errors.New("-auth-id is required for session-revoke")
		}
		store, err := openRedisStore()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := store.Revoke(ctx, opts.identity.AuthID, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to revoke session: %w", err)
		}
		fmt.Printf("Session %s revoked\n", opts.identity.AuthID)
		return nil

	default:
		return fmt.Errorf("unknown action: %q", action)
	}
}

// generateKeys writes a signature and an encryption key pair as PEM files.
func generateKeys(dir string, bits int) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	pairs := []struct{ private, public string }{
		{signaturePrivateFile, signaturePublicFile},
		{encryptionPrivateFile, encryptionPublicFile},
	}
	for _, p := range pairs {
		key, err := rsa.GenerateKey(rand.Reader, bits)
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		privPEM, err := token.EncodePrivateKeyPEM(key)
		if err != nil {
			return err
		}
		pubPEM, err := token.EncodePublicKeyPEM(&key.PublicKey)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, p.private), privPEM, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.private, err)
		}
		if err := os.WriteFile(filepath.Join(dir, p.public), pubPEM, 0o600); err != nil {
			return fmt.Errorf("failed to write %s: %w", p.public, err)
		}
	}
	return nil
}

// keysConfig reads KEYS_* from the environment. A keys directory replaces
// any inline or file key settings with the files genkeys writes.
func keysConfig(keysDir string) (*config.KeysConfig, error) {
	var cfg config.KeysConfig
	if err := envconfig.Process("KEYS", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load key configuration: %w", err)
	}
	if keysDir != "" {
		cfg.SignaturePrivateKey, cfg.SignaturePublicKey = "", ""
		cfg.EncryptionPrivateKey, cfg.EncryptionPublicKey = "", ""
		cfg.SignaturePrivateKeyFile = filepath.Join(keysDir, signaturePrivateFile)
		cfg.SignaturePublicKeyFile = filepath.Join(keysDir, signaturePublicFile)
		cfg.EncryptionPrivateKeyFile = filepath.Join(keysDir, encryptionPrivateFile)
		cfg.EncryptionPublicKeyFile = filepath.Join(keysDir, encryptionPublicFile)
	}
	return &cfg, nil
}

func loadCodec(keysDir string) (*token.Codec, error) {
	cfg, err := keysConfig(keysDir)
	if err != nil {
		return nil, err
	}
	keySet, err := token.LoadKeySet(cfg)
	if err != nil {
		return nil, err
	}
	return token.NewCodec(token.NewKeyring(keySet), cfg), nil
}

// mintToken issues a token for id. A zero ttl uses the configured lifetime
// of the token type.
func mintToken(codec *token.Codec, id Identity, tokenType models.TokenType, ttl time.Duration) (string, error) {
	if tokenType != models.TokenTypeAccess && tokenType != models.TokenTypeRefresh {
		return "", fmt.Errorf("unsupported token type: %s", tokenType)
	}
	if ttl == 0 {
		ttl = codec.DefaultExpiry(tokenType)
	}
	return codec.Mint(&models.TokenClaims{
		AuthID:    id.AuthID,
		UserID:    id.UserID,
		Email:     id.Email,
		Roles:     id.Roles,
		TokenType: tokenType,
	}, ttl)
}

// createSession stores a new active session for id. An empty AuthID gets a
// fresh UUID.
func createSession(ctx context.Context, store session.Writer, id Identity, ttl time.Duration, now time.Time) (*models.Session, error) {
	if id.UserID == "" {
		return nil, errors.New("-user is required")
	}
	if id.AuthID == "" {
		id.AuthID = uuid.New().String()
	}

	s := &models.Session{
		ID:         id.AuthID,
		UserID:     id.UserID,
		UserEmail:  id.Email,
		DeviceInfo: "tokenctl",
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		IsActive:   true,
	}
	if err := store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return s, nil
}

func openRedisStore() (*session.RedisStore, error) {
	var cfg config.RedisConfig
	if err := envconfig.Process("REDIS", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load redis configuration: %w", err)
	}
	return session.NewRedisStore(&cfg, logger.New("warn", "text", "stderr"))
}

func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read token from stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseStringList(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
