package core

import (
	"context"

	"pkt.systems/nbexec/schema"
)

// onActiveConsoleChanged records the focused console and reconciles the live
// execution context with it. The tracker is updated first so it stays the
// source of truth regardless of what the context does. Runs on the loop.
func (c *Coordinator) onActiveConsoleChanged(ctx context.Context, change schema.ActiveConsoleChange) {
	c.activeConsole = change.ConsoleID
	exec := c.exec
	if exec == nil {
		c.log(ctx).Trace("coordinator console focus", "console", change.ConsoleID)
		return
	}
	if change.ConsoleID == schema.ConsoleID(exec.chunkID) {
		if exec.connected() {
			return
		}
		if exec.connect(ctx, c.activeConsole) {
			exec.consoleInput(ctx, change.PendingText)
		}
		return
	}
	if exec.connected() {
		exec.terminate(ctx)
		c.exec = nil
		c.log(ctx).Info("coordinator exec context released", "console", change.ConsoleID, "doc", exec.docID, "chunk", exec.chunkID)
	}
}
