// Package config loads the searchflow configuration.
//
// Values come from defaults, an optional YAML file and SEARCHFLOW_* environment
// variables, in that order. The resulting *Config is built once and passed to
// constructors explicitly.
package config
