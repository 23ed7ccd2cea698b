// Package config loads typed configuration from files and environment
// variables.
//
// Load reads an optional config file (YAML or JSON, found by an explicit
// path or a search list), binds environment variables over it, seeds the
// environment from an optional .env file, and unmarshals the merged
// result into a struct. File access goes through a small filesystem seam
// so tests can run against fabricated trees.
//
//	var cfg MyConfig
//	err := config.Load(&cfg,
//		config.WithSearchPaths("./myapp.yaml"),
//		config.WithEnvPrefix("MYAPP"),
//	)
//
// Environment variables win over file values. With a prefix, MYAPP_HTTP_PORT
// binds to the nested key http.port; without one, every variable binds
// under its own lowercased name.
package config
