// Package turnrest mints coturn-compatible ephemeral TURN credentials so
// browser clients never see the long-lived shared secret.
//
// See:
// - https://github.com/coturn/coturn/wiki/turnserver
// - https://datatracker.ietf.org/doc/html/draft-uberti-behave-turn-rest
//
// Algorithm:
//
//	username   = <unix_expiry_timestamp>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Minter issues short-lived TURN credentials from a shared secret.
type Minter struct {
	secret []byte
	ttl    time.Duration
	prefix string

	// now is swapped out by tests.
	now func() time.Time
}

func NewMinter(secret, prefix string, ttl time.Duration) (*Minter, error) {
	if secret == "" {
		return nil, errors.New("shared secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if prefix == "" || strings.Contains(prefix, ":") {
		return nil, errors.New("prefix is required and must not contain ':'")
	}
	return &Minter{
		secret: []byte(secret),
		ttl:    ttl,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// MintFor issues credentials tied to sessionID, valid until now+ttl.
func (m *Minter) MintFor(sessionID string) (Credentials, error) {
	if sessionID == "" || strings.Contains(sessionID, ":") {
		return Credentials{}, errors.New("session id is required and must not contain ':'")
	}
	expiry := m.now().UTC().Unix() + int64(m.ttl/time.Second)
	username := fmt.Sprintf("%d:%s:%s", expiry, m.prefix, sessionID)
	mac := hmac.New(sha1.New, m.secret)
	_, _ = mac.Write([]byte(username))
	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}

// Mint issues credentials for a random session id.
func (m *Minter) Mint() (Credentials, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Credentials{}, err
	}
	return m.MintFor(hex.EncodeToString(b[:]))
}
