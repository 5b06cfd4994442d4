// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables, CLI flags). Later sources win: defaults, then YAML,
// then the environment, then CLI flags. The server endpoint tree is read from
// the YAML "server" key and overlaid from SERVERBIND_ environment variables.
package config
