package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modcache/pkg/daemon/store"
)

func TestOpenStampsSchema(t *testing.T) {
	s := openStore(t)
	schema := s.GetSchema()
	require.NotNil(t, schema)
	assert.Equal(t, store.CurrentSchemaVersion, schema.Version)
}

func TestNewerSchemaIsRejected(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.SetSchema(&store.Schema{Version: store.CurrentSchemaVersion + 1, UpdatedAt: time.Now()}))
	require.NoError(t, s.Close())

	_, err = store.Open(dir)
	assert.ErrorIs(t, err, store.ErrSchemaTooNew)
}
