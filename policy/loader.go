package policy

import (
	"github.com/kbukum/plugkit/config"
)

// EnvPrefix namespaces the environment variables the loader reads:
// PLUGKIT_DEFAULT, PLUGKIT_CACHE_TTL_SECONDS, PLUGKIT_QUIESCE_SECONDS, ...
const EnvPrefix = "PLUGKIT"

// policySearchPaths are the locations Load checks for a policy file when no
// explicit path is given, in order.
var policySearchPaths = []string{
	"./policy.yaml",
	"./policy.yml",
	"./policy.json",
	"./config/policy.yaml",
	"./config/policy.yml",
	"./config/policy.json",
	"../config/policy.yaml",
}

// envSearchPaths are the locations Load checks for a .env file.
var envSearchPaths = []string{
	"./.env",
	"./config/.env",
	"../.env",
}

// Load reads the selection policy from a policy.yaml/.json file, PLUGKIT_*
// environment variables, and an optional .env file, then validates it.
// Environment variables win over file values. A missing policy file is not
// an error: the zero policy keeps every default. A policy file that exists
// but cannot be parsed is an error, since silently falling back to defaults
// would mask a broken deployment.
//
// Options are forwarded to config.Load; pass config.WithConfigFile to pin
// a specific file.
func Load(opts ...config.LoaderOption) (*Policy, error) {
	merged := make([]config.LoaderOption, 0, len(opts)+3)
	merged = append(merged,
		config.WithSearchPaths(policySearchPaths...),
		config.WithEnvSearchPaths(envSearchPaths...),
		config.WithEnvPrefix(EnvPrefix),
	)
	merged = append(merged, opts...)

	var p Policy
	if err := config.Load(&p, merged...); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
