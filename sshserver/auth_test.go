package sshserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"
)

func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hash)
}

func testPubKey(t *testing.T) (ssh.PublicKey, ssh.Signer) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return sshPub, signer
}

func TestUsersPasswordAndKeys(t *testing.T) {
	pub, _ := testPubKey(t)
	other, _ := testPubKey(t)
	users, err := NewUsers([]User{
		{Username: "alice", PasswordHash: testHash(t, "secret")},
		{Username: "bob", LoginPubKeys: []string{strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub))) + " bob@laptop"}},
	})
	if err != nil {
		t.Fatalf("new users: %v", err)
	}
	if !users.CheckPassword("alice", "secret") {
		t.Fatalf("expected alice password to match")
	}
	if users.CheckPassword("alice", "wrong") || users.CheckPassword("bob", "secret") || users.CheckPassword("carol", "secret") {
		t.Fatalf("unexpected password match")
	}
	if !users.HasLoginPubKey("bob", pub) {
		t.Fatalf("expected bob key to match")
	}
	if users.HasLoginPubKey("bob", other) || users.HasLoginPubKey("alice", pub) {
		t.Fatalf("unexpected key match")
	}
}

func TestNewUsersValidation(t *testing.T) {
	cases := map[string][]User{
		"empty":     nil,
		"no name":   {{PasswordHash: testHash(t, "x")}},
		"no secret": {{Username: "alice"}},
		"bad hash":  {{Username: "alice", PasswordHash: "plaintext"}},
		"bad key":   {{Username: "alice", LoginPubKeys: []string{"ssh-ed25519 nope"}}},
		"duplicate": {{Username: "alice", PasswordHash: testHash(t, "x")}, {Username: "alice", PasswordHash: testHash(t, "y")}},
	}
	for name, users := range cases {
		if _, err := NewUsers(users); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")) != nil {
		t.Fatalf("hash does not verify")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}
