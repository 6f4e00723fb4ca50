package config

// BuildConfig configures the preview pipeline.
type BuildConfig struct {
	// Scanner picks the import scanner: pattern (regexp) or syntax (tree-sitter).
	Scanner     string `yaml:"scanner" json:"scanner"`
	Target      string `yaml:"target" json:"target"`
	SourceMap   bool   `yaml:"source_map" json:"source_map"`
	Concurrency int    `yaml:"concurrency" json:"concurrency,omitempty"`
	CacheSize   int    `yaml:"cache_size" json:"cache_size"`
	Timeout     string `yaml:"timeout" json:"timeout,omitempty"`

	Title    string `yaml:"title" json:"title"`
	Tailwind bool   `yaml:"tailwind" json:"tailwind"`
	NodeEnv  string `yaml:"node_env" json:"node_env"`

	// Externals are added to, or replace, the default external packages.
	Externals map[string]string `yaml:"externals" json:"externals,omitempty"`
	// NoDefaultExternals drops the built-in table entirely.
	NoDefaultExternals bool `yaml:"no_default_externals" json:"no_default_externals,omitempty"`
}

// DefaultBuildConfig returns sensible defaults.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		Scanner:   "pattern",
		Target:    "es2020",
		SourceMap: true,
		CacheSize: 512,
		Timeout:   "60s",
		Title:     "Preview",
		Tailwind:  true,
		NodeEnv:   "development",
	}
}
