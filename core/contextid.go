package core

import (
	"crypto/sha256"
	"encoding/hex"

	"pkt.systems/nbexec/schema"
)

// ContextID derives the notebook context id for a user and session. A
// context is owned by exactly one session; other sessions may read it for
// collaborative viewing but never write to it.
func ContextID(user, session string) schema.NotebookContextID {
	sum := sha256.Sum256([]byte(user + "\x00" + session))
	return schema.NotebookContextID(hex.EncodeToString(sum[:8]))
}
