package peerlist

import (
	"encoding/json"

	"github.com/dgraph-io/badger/v4"
	"github.com/lra/nelson.cli/peer"
)

// store is the persistent document store: one document per Peer, keyed by
// its normalized address. Backed by badger/v4; temporary mode opens an
// in-memory instance so no on-disk cleanup is ever required.
type store struct {
	db *badger.DB
}

func openStore(dataPath string, temporary bool) (*store, error) {
	var opts badger.Options
	if temporary {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dataPath)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

func (s *store) close() error {
	return s.db.Close()
}

func (s *store) put(key string, data peer.Data) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf)
	})
}

func (s *store) delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// loadAll reads every document into a key->Data map.
func (s *store) loadAll() (map[string]peer.Data, error) {
	ret := make(map[string]peer.Data)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			var data peer.Data
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &data)
			})
			if err != nil {
				return err
			}
			ret[key] = data
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// wipe deletes every document (PeerList.clear).
func (s *store) wipe() error {
	return s.db.DropAll()
}
