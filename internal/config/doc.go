// Package config loads application configuration from defaults, an optional
// YAML file and TASKGATE_-prefixed environment variables, and validates it
// with struct tags.
package config
