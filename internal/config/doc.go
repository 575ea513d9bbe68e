// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation,
// so secrets (feed API key, database and Redis passwords) stay out of the file.
package config
