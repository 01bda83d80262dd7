package httpapi

// Config defines HTTP API settings.
type Config struct {
	Addr        string
	BasePath    string
	Token       string
	HistorySize int
}
