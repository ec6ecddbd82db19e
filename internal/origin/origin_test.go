package origin

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in         string
		normalized string
		host       string
		ok         bool
	}{
		{"https://example.com", "https://example.com", "example.com", true},
		{"HTTPS://Example.COM:443", "https://example.com", "example.com", true},
		{"http://example.com:80", "http://example.com", "example.com", true},
		{"http://example.com:8080", "http://example.com:8080", "example.com:8080", true},
		{"https://[::1]:8443", "https://[::1]:8443", "[::1]:8443", true},
		{"null", "null", "", true},
		{"  https://example.com  ", "https://example.com", "example.com", true},
		{"example.com", "", "", false},
		{"ftp://example.com", "", "", false},
		{"https://user@example.com", "", "", false},
		{"https://example.com/path", "", "", false},
		{"https://example.com?q=1", "", "", false},
		{"https://example.com:0", "", "", false},
		{"https://example.com:99999", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		normalized, host, ok := Normalize(tc.in)
		if normalized != tc.normalized || host != tc.host || ok != tc.ok {
			t.Errorf("Normalize(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, normalized, host, ok, tc.normalized, tc.host, tc.ok)
		}
	}
}

func TestAllowed_AllowList(t *testing.T) {
	allowList := []string{"https://app.example.com", "http://localhost:3000"}
	if !Allowed("https://app.example.com", "relay.example.com", allowList) {
		t.Error("listed origin should be allowed")
	}
	if !Allowed("http://localhost:3000", "relay.example.com", allowList) {
		t.Error("listed localhost origin should be allowed")
	}
	if Allowed("https://evil.example.com", "relay.example.com", allowList) {
		t.Error("unlisted origin should be rejected")
	}
	if !Allowed("https://anything.example.com", "relay.example.com", []string{"*"}) {
		t.Error("wildcard should allow any valid origin")
	}
	if Allowed("not a url", "relay.example.com", []string{"*"}) {
		t.Error("wildcard must still reject malformed origins")
	}
}

func TestAllowed_SameHostDefault(t *testing.T) {
	if !Allowed("https://relay.example.com", "relay.example.com", nil) {
		t.Error("same-host origin should be allowed by default")
	}
	if !Allowed("https://relay.example.com:443", "relay.example.com", nil) {
		t.Error("default port should be treated as equivalent")
	}
	if Allowed("https://other.example.com", "relay.example.com", nil) {
		t.Error("cross-host origin should be rejected by default")
	}
	if Allowed("null", "relay.example.com", nil) {
		t.Error("null origin cannot match a host-based request")
	}
}
