package config

import "os"

// ExpandEnv expands environment variables in raw JSON bytes using Go's
// standard library, supporting both ${VAR} and $VAR syntax. Missing
// variables expand to the empty string; Validator.ValidateAll catches
// required fields left empty by a missing variable.
func ExpandEnv(data []byte) []byte {
	return []byte(os.Expand(string(data), os.Getenv))
}
