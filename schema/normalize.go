package schema

import (
	"fmt"
	"strings"
)

// ValidateIdentity ensures a usable user and session pair.
func ValidateIdentity(id Identity) error {
	if strings.TrimSpace(id.User) == "" || strings.TrimSpace(id.Session) == "" {
		return ErrInvalidIdentity
	}
	return nil
}

// ValidateSetChunkConsole checks set_chunk_console arguments.
func ValidateSetChunkConsole(req SetChunkConsoleRequest) error {
	if strings.TrimSpace(string(req.DocID)) == "" {
		return fmt.Errorf("%w: doc id is required", ErrInvalidParams)
	}
	if strings.TrimSpace(string(req.ChunkID)) == "" {
		return fmt.Errorf("%w: chunk id is required", ErrInvalidParams)
	}
	if !req.ExecMode.Valid() {
		return fmt.Errorf("%w: unsupported exec mode %d", ErrInvalidParams, int(req.ExecMode))
	}
	if req.PixelWidth < 0 || req.CharWidth < 0 {
		return fmt.Errorf("%w: widths must not be negative", ErrInvalidParams)
	}
	return nil
}

// ValidateRefreshChunkOutput checks refresh_chunk_output arguments.
func ValidateRefreshChunkOutput(req RefreshChunkOutputRequest) error {
	if strings.TrimSpace(string(req.DocID)) == "" {
		return fmt.Errorf("%w: doc id is required", ErrInvalidParams)
	}
	return nil
}
