package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"github.com/hackgods/medical-appointment-saga/internal/config"
)

// Credentials locate and authenticate against the ledger server. The
// database name is chosen per country and is not part of them.
type Credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// DSN builds a postgres URL for database.
func (c Credentials) DSN(database, sslMode string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + database,
	}
	if sslMode != "" {
		u.RawQuery = url.Values{"sslmode": {sslMode}}.Encode()
	}
	return u.String()
}

// CredentialsSource is asked once per pool creation.
type CredentialsSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials always returns itself.
type StaticCredentials Credentials

func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}

// SecretFile reads credentials from a mounted JSON secret
// ({"host","port","username","password"}). Fields missing from the secret
// fall back to Defaults, and an empty Path means Defaults only.
type SecretFile struct {
	Path     string
	Defaults Credentials
}

func (s SecretFile) Credentials(ctx context.Context) (Credentials, error) {
	creds := s.Defaults
	if s.Path == "" {
		return creds, nil
	}

	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return Credentials{}, fmt.Errorf("read ledger secret: %w", err)
	}

	var secret Credentials
	if err := json.Unmarshal(raw, &secret); err != nil {
		return Credentials{}, fmt.Errorf("decode ledger secret %s: %w", s.Path, err)
	}

	if secret.Host != "" {
		creds.Host = secret.Host
	}
	if secret.Port != 0 {
		creds.Port = secret.Port
	}
	if secret.Username != "" {
		creds.Username = secret.Username
	}
	if secret.Password != "" {
		creds.Password = secret.Password
	}
	return creds, nil
}

func SecretFromConfig(cfg config.LedgerConfig) SecretFile {
	return SecretFile{
		Path: cfg.SecretFile,
		Defaults: Credentials{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.User,
			Password: cfg.Password,
		},
	}
}
