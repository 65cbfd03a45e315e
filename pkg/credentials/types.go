package credentials

// Credentials is the content of credentials.toml.
type Credentials struct {
	Version  int                          `toml:"version"`
	Backends map[string]BackendCredential `toml:"backends"`
}

// BackendCredential holds the secret of one memory backend, keyed by the
// backend id used in config.toml.
type BackendCredential struct {
	APIKey string `toml:"api_key"`
}
