package sshserver

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh"
)

// Users validates SSH console credentials against the configured accounts.
type Users struct {
	byName map[string]userEntry
}

type userEntry struct {
	passwordHash []byte
	keys         []ssh.PublicKey
}

// NewUsers validates the account list and parses login keys.
func NewUsers(users []User) (*Users, error) {
	if len(users) == 0 {
		return nil, errors.New("at least one ssh user is required")
	}
	out := &Users{byName: make(map[string]userEntry, len(users))}
	for _, user := range users {
		name := strings.TrimSpace(user.Username)
		if name == "" {
			return nil, errors.New("ssh username is required")
		}
		if _, exists := out.byName[name]; exists {
			return nil, fmt.Errorf("duplicate ssh user %q", name)
		}
		entry := userEntry{}
		if hash := strings.TrimSpace(user.PasswordHash); hash != "" {
			if _, err := bcrypt.Cost([]byte(hash)); err != nil {
				return nil, fmt.Errorf("ssh user %q: invalid password hash: %w", name, err)
			}
			entry.passwordHash = []byte(hash)
		}
		for i, raw := range user.LoginPubKeys {
			key, err := parseLoginPubKey(raw)
			if err != nil {
				return nil, fmt.Errorf("ssh user %q: login key %d: %w", name, i+1, err)
			}
			entry.keys = append(entry.keys, key)
		}
		if entry.passwordHash == nil && len(entry.keys) == 0 {
			return nil, fmt.Errorf("ssh user %q has no password hash or login key", name)
		}
		out.byName[name] = entry
	}
	return out, nil
}

// CheckPassword reports whether password matches the user's hash.
func (u *Users) CheckPassword(username, password string) bool {
	entry, ok := u.byName[username]
	if !ok || entry.passwordHash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(entry.passwordHash, []byte(password)) == nil
}

// HasLoginPubKey reports whether key is authorized for the user.
func (u *Users) HasLoginPubKey(username string, key ssh.PublicKey) bool {
	entry, ok := u.byName[username]
	if !ok || key == nil {
		return false
	}
	marshaled := string(key.Marshal())
	for _, candidate := range entry.keys {
		if string(candidate.Marshal()) == marshaled {
			return true
		}
	}
	return false
}

// HashPassword returns a bcrypt hash suitable for User.PasswordHash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func parseLoginPubKey(raw string) (ssh.PublicKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("public key is required")
	}
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(trimmed))
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return key, nil
}
