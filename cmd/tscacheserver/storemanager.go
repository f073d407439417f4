package main

import (
	"sync"

	"github.com/tlemo/catapult/go/boltstore"
	"github.com/tlemo/catapult/tscache/store"
	"github.com/tlemo/catapult/tscache/types"
)

// storeManager hands out one long-lived *boltstore.DB per identity,
// opening it on first request and reusing it for the life of the
// process -- bbolt allows only one open handle per file, so every
// request for the same identity must share it.
type storeManager struct {
	mu      sync.Mutex
	dataDir string
	dbs     map[string]*boltstore.DB
}

func newStoreManager(dataDir string) *storeManager {
	return &storeManager{dataDir: dataDir, dbs: map[string]*boltstore.DB{}}
}

func (m *storeManager) get(id types.Identity) (*boltstore.DB, error) {
	name := id.StoreName()

	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.dbs[name]; ok {
		return db, nil
	}
	db, err := store.Open(m.dataDir, id)
	if err != nil {
		return nil, err
	}
	m.dbs[name] = db
	return db, nil
}
