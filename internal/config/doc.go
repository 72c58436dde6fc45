// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Loading is fail-fast: LoadAndValidate rejects any invalid value before the
// gateway binds a listener.
package config
