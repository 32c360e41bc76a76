package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Schema versions:
// 1 - Run records (r:) and metadata (m:)
const CurrentSchemaVersion = 1

const schemaKey = prefixMeta + "__schema__"

// ErrSchemaTooNew is returned when the database was written by a newer
// version of modcache.
var ErrSchemaTooNew = errors.New("history schema is newer than supported")

// Schema holds database schema information.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSchema returns the current schema version, or nil if not set.
func (s *Store) GetSchema() *Schema {
	var schema *Schema

	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})

	return schema
}

// SetSchema stores the schema version.
func (s *Store) SetSchema(schema *Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// EnsureSchema stamps a new database with the current version and rejects
// databases from a newer version.
func (s *Store) EnsureSchema() error {
	schema := s.GetSchema()
	switch {
	case schema == nil:
		return s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()})
	case schema.Version > CurrentSchemaVersion:
		return fmt.Errorf("%w: version %d, supported %d", ErrSchemaTooNew, schema.Version, CurrentSchemaVersion)
	default:
		return nil
	}
}
