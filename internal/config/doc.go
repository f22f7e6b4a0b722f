// Package config loads, normalizes, and validates isomine configuration.
//
// It supplies repository defaults, anchors relative paths at paths.repo_root,
// expands tilde shortcuts, and reads TOML files. Policy documents themselves
// live in internal/policy; this package only records where they are.
package config
