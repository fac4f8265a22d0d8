// Package config loads and validates zigbridge configuration.
//
// Configuration is read from a YAML file with three layers of precedence:
// hardcoded defaults, file values, and ZIGBRIDGE_* environment variables.
// Validation is strict: a misconfigured coordinator link (bad address or
// unknown framing variant) prevents startup entirely rather than risking
// silent frame misinterpretation at runtime.
package config
