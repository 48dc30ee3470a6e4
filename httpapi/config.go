package httpapi

// Config defines the HTTP control API settings.
type Config struct {
	// Addr is the listen address; empty disables the API.
	Addr     string
	BasePath string
	// Token, when set, must be presented as a bearer token on every request.
	Token string
	// HistorySize caps the events kept per session for stream replay.
	HistorySize int
	// TailLines limits snapshot text to the last lines unless the request asks otherwise.
	TailLines int
}
