package migrations

import (
	_ "embed"
	"fmt"
)

//go:embed 001_initial_schema.sql
var initialSchema string

// GetInitialSchema returns the initial database schema
func GetInitialSchema() (string, error) {
	if initialSchema == "" {
		return "", fmt.Errorf("initial schema is empty")
	}
	return initialSchema, nil
}
