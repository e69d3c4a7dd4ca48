package store

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// openMemDB opens an ephemeral LevelDB instance backed by an in-memory
// storage.Storage, used when Config.Path is empty (tests, and
// throwaway state during development).
func openMemDB() (*leveldb.DB, error) {
	return leveldb.Open(storage.NewMemStorage(), nil)
}
