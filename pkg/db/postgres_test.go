package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"002_indexes.sql": {Data: []byte("CREATE INDEX ...")},
		"001_init.sql":    {Data: []byte("CREATE TABLE ...")},
		"README.md":       {Data: []byte("not a migration")},
	}

	files, err := migrationFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "002_indexes.sql"}, files)
}

func TestMigrationFilesEmptyFS(t *testing.T) {
	files, err := migrationFiles(fstest.MapFS{})
	require.NoError(t, err)
	assert.Empty(t, files)
}
