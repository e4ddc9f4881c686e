package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunMigrations_InputValidation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		path    string
		wantErr string
	}{
		{name: "EmptyMigrationsPath", url: "postgres://localhost/casino_ledger", wantErr: "migrations path cannot be empty"},
		{name: "EmptyDatabaseURL", path: "migrations/postgres", wantErr: "database URL cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, RunMigrations(tt.url, tt.path), tt.wantErr)
		})
	}
}
