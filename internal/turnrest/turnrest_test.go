package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func signedWith(secret, username string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestMintFor_DeterministicWithFixedClock(t *testing.T) {
	m, err := NewMinter("shared-secret", "meshconf", time.Hour)
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}
	m.now = func() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

	creds, err := m.MintFor("session123")
	if err != nil {
		t.Fatalf("MintFor: %v", err)
	}
	if creds.ExpiryUnix != 1_700_003_600 {
		t.Fatalf("ExpiryUnix: got %d, want %d", creds.ExpiryUnix, 1_700_003_600)
	}
	if want := "1700003600:meshconf:session123"; creds.Username != want {
		t.Fatalf("Username: got %q, want %q", creds.Username, want)
	}
	if want := signedWith("shared-secret", creds.Username); creds.Credential != want {
		t.Fatalf("Credential: got %q, want %q", creds.Credential, want)
	}
}

func TestMintFor_RejectsBadSessionIDs(t *testing.T) {
	m, err := NewMinter("secret", "meshconf", time.Minute)
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}
	if _, err := m.MintFor(""); err == nil {
		t.Error("empty session id should be rejected")
	}
	if _, err := m.MintFor("a:b"); err == nil {
		t.Error("session id containing ':' should be rejected")
	}
}

func TestMint_RandomSessionIDsDiffer(t *testing.T) {
	m, err := NewMinter("secret", "meshconf", time.Minute)
	if err != nil {
		t.Fatalf("NewMinter: %v", err)
	}
	a, err := m.Mint()
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	b, err := m.Mint()
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if a.Username == b.Username {
		t.Fatalf("expected distinct usernames, got %q twice", a.Username)
	}
	if !strings.Contains(a.Username, ":meshconf:") {
		t.Fatalf("username %q missing prefix", a.Username)
	}
}

func TestNewMinter_Validation(t *testing.T) {
	if _, err := NewMinter("", "meshconf", time.Minute); err == nil {
		t.Error("empty secret should be rejected")
	}
	if _, err := NewMinter("secret", "", time.Minute); err == nil {
		t.Error("empty prefix should be rejected")
	}
	if _, err := NewMinter("secret", "a:b", time.Minute); err == nil {
		t.Error("prefix with ':' should be rejected")
	}
	if _, err := NewMinter("secret", "meshconf", 0); err == nil {
		t.Error("zero ttl should be rejected")
	}
}
