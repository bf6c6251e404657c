// Package config loads the daemon configuration from YAML files and the
// environment. Precedence, highest first: BIZY_* environment variables,
// the config file (bizy.yaml / bizy.yml or an explicit path), built-in
// defaults. Nested keys use a double underscore in the environment, e.g.
// BIZY_ORCHESTRATOR__MAX_PARALLEL maps to orchestrator.max_parallel.
package config
