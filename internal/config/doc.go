// Package config loads growline's configuration.
//
// Configuration comes from a single file named by the --config flag or the
// GROWLINE_CONFIG environment variable. There is no discovery: with neither
// set, the built-in defaults are used as-is.
//
// Files ending in .json or .jsonc are read as JSON with comments and
// trailing commas allowed; anything else is read as YAML. Unknown keys are
// errors in both. Values from the file are layered over Default, ${VAR}
// references in paths are expanded, and the result is checked against the
// embedded CUE schema (schema.cue) before it is returned.
package config
