package handshake

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/raa-org/sevpn/internal/model"
	"github.com/raa-org/sevpn/internal/sha0"
)

func TestSecurePasswordDerivation(t *testing.T) {
	random := make([]byte, 20)
	for i := range random {
		random[i] = byte(i)
	}

	got := securePassword("p@ss", "alice", random)

	inner := sha0.Sum([]byte("p@ssALICE"))
	want := sha0.Sum(append(inner[:], random...))
	if !bytes.Equal(got[:], want[:]) {
		t.Fatalf("derivation mismatch: %x != %x", got, want)
	}
}

// The username is uppercased before hashing, so the proof must not
// depend on the case the user typed.
func TestSecurePasswordUsernameCase(t *testing.T) {
	random := bytes.Repeat([]byte{0x42}, 20)
	lower := securePassword("secret", "alice", random)
	upper := securePassword("secret", "ALICE", random)
	mixed := securePassword("secret", "aLiCe", random)
	if lower != upper || lower != mixed {
		t.Fatal("proof must be case-insensitive in the username")
	}
}

func makeJWT(t *testing.T, claims string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(claims))
	return header + "." + payload + ".signature"
}

func TestNewAuthFromCredentialsToken(t *testing.T) {
	token := makeJWT(t, `{"email":"alice@example.org","preferred_username":"alice"}`)
	auth, err := NewAuthFromCredentials(&model.Credentials{Token: token})
	if err != nil {
		t.Fatal(err)
	}
	if auth.Username != "alice@example.org" {
		t.Fatalf("username = %q, want the email claim", auth.Username)
	}
	if auth.Token != token {
		t.Fatal("token must be preserved")
	}
}

func TestNewAuthFromCredentialsPreferredUsername(t *testing.T) {
	token := makeJWT(t, `{"preferred_username":"bob"}`)
	auth, err := NewAuthFromCredentials(&model.Credentials{Token: token})
	if err != nil {
		t.Fatal(err)
	}
	if auth.Username != "bob" {
		t.Fatalf("username = %q", auth.Username)
	}
}

func TestNewAuthFromCredentialsBadToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"opaque token", "not-a-jwt"},
		{"bad base64", "a.!!!.c"},
		{"no claims", makeJWT(t, `{}`)},
		{"not json", makeJWT(t, `garbage`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAuthFromCredentials(&model.Credentials{Token: tt.token})
			if err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNewAuthFromCredentialsPassword(t *testing.T) {
	auth, err := NewAuthFromCredentials(&model.Credentials{Username: "alice", Password: "p@ss"})
	if err != nil {
		t.Fatal(err)
	}
	if auth.Username != "alice" || auth.Password != "p@ss" || auth.Token != "" {
		t.Fatalf("auth = %+v", auth)
	}
}

func TestNewAuthFromCredentialsMissing(t *testing.T) {
	if _, err := NewAuthFromCredentials(nil); err == nil {
		t.Fatal("nil credentials must fail")
	}
	if _, err := NewAuthFromCredentials(&model.Credentials{Username: "x"}); err == nil {
		t.Fatal("username without password must fail")
	}
}
