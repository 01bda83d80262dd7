package enginegrpc

// Config controls the engine bridge listener.
type Config struct {
	// Addr is host:port for TCP or unix:///path for a Unix domain socket.
	Addr string
	// SendBuffer bounds directives queued per connected engine.
	SendBuffer int
}
