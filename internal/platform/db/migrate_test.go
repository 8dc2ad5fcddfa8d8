package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/migrations"
)

func TestParseMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0010_audit.sql": {Data: []byte("CREATE TABLE audit_logs ();")},
		"0002_rbac.sql":  {Data: []byte("CREATE TABLE roles ();")},
		"README.md":      {Data: []byte("ignored")},
	}
	got, err := ParseMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Version)
	assert.Equal(t, "rbac", got[0].Name)
	assert.Equal(t, 10, got[1].Version)
}

func TestParseMigrationsRejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql":  {Data: []byte("SELECT 2;")},
	}
	_, err := ParseMigrations(fsys)
	assert.ErrorContains(t, err, "version 1")
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	got, err := ParseMigrations(migrations.FS)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Contains(t, got[1].SQL, "model_has_roles")
	assert.Contains(t, got[2].SQL, "audit_logs")
}
