// Package config loads, normalizes, and validates logtransfer configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML or YAML files, and honours environment overrides
// such as LOGTRANSFER_CONTROL_PORT. The Config type carries the control
// endpoint, daemon paths, logging knobs, tracker tuning, and the ordered list
// of watch descriptors the daemon turns into compiled watch specs.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical log formats, and clear validation errors.
package config
