package search

// Config holds OpenSearch connection parameters. Search is disabled when no
// address is configured.
type Config struct {
	Addresses    []string `env:"OPENSEARCH_ADDRESSES" envSeparator:","`
	Username     string   `env:"OPENSEARCH_USERNAME"`
	Password     string   `env:"OPENSEARCH_PASSWORD"`
	MaxRetries   int      `env:"OPENSEARCH_MAX_RETRIES" envDefault:"3"`
	DisableRetry bool     `env:"OPENSEARCH_DISABLE_RETRY" envDefault:"false"`
	Index        string   `env:"OPENSEARCH_INDEX" envDefault:"documents"`
	MaxResults   int      `env:"OPENSEARCH_MAX_RESULTS" envDefault:"10"`
}

// Enabled reports whether an OpenSearch cluster is configured.
func (c Config) Enabled() bool {
	return len(c.Addresses) > 0
}
