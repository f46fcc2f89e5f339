package observability

// Config captures opt-in observability toggles that wire into the server.
type Config struct {
	// EventLogPath, when set, adds a JSON-lines file sink to the logging
	// router alongside the console sink.
	EventLogPath string
}
