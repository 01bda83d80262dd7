package sshserver

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// HostKey is the console's SSH host identity.
type HostKey struct {
	Signer      ssh.Signer
	Fingerprint string
	Created     bool
}

// LoadHostKey returns the host key stored at path. A missing key is generated
// as ed25519 and written with mode 0600; an existing key that group or others
// can access is refused.
func LoadHostKey(path string) (HostKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return HostKey{}, errors.New("ssh host key path is required")
	}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return HostKey{}, fmt.Errorf("host key %s is accessible by group or others (mode %v)", path, perm)
		}
		signer, err := readHostKey(path)
		if err != nil {
			return HostKey{}, err
		}
		return HostKey{Signer: signer, Fingerprint: ssh.FingerprintSHA256(signer.PublicKey())}, nil
	case errors.Is(err, fs.ErrNotExist):
		signer, err := createHostKey(path)
		if err != nil {
			return HostKey{}, err
		}
		return HostKey{Signer: signer, Fingerprint: ssh.FingerprintSHA256(signer.PublicKey()), Created: true}, nil
	default:
		return HostKey{}, fmt.Errorf("stat host key: %w", err)
	}
}

// createHostKey writes the PEM block to a temporary file in the target
// directory and renames it into place.
func createHostKey(path string) (ssh.Signer, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create host key dir: %w", err)
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "nbexec console")
	if err != nil {
		return nil, fmt.Errorf("marshal host key: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".host_key-*")
	if err != nil {
		return nil, fmt.Errorf("write host key: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("chmod host key: %w", err)
	}
	if err := pem.Encode(tmp, block); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("encode host key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close host key: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("install host key: %w", err)
	}
	return ssh.NewSignerFromKey(priv)
}

func readHostKey(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read host key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse host key %s: %w", path, err)
	}
	return signer, nil
}
