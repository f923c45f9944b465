package unread

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/elixxir/ekv"
	bolt "go.etcd.io/bbolt"
)

func storageKey(user string, kind Kind) string {
	return "unread/" + string(kind) + "/" + user
}

// KVStore keeps counters in an ekv key-value store: a Filestore on disk or a
// Memstore in tests.
type KVStore struct {
	mu sync.Mutex
	kv ekv.KeyValue
}

func NewKVStore(kv ekv.KeyValue) *KVStore {
	return &KVStore{kv: kv}
}

// OpenKVStore opens (or creates) an encrypted Filestore under dir.
func OpenKVStore(dir, password string) (*KVStore, error) {
	fs, err := ekv.NewFilestore(dir, password)
	if err != nil {
		return nil, errors.WithMessagef(err, "open unread store at %s", dir)
	}
	return NewKVStore(fs), nil
}

func (s *KVStore) Load(user string, kind Kind) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[string]int{}
	if err := s.kv.GetInterface(storageKey(user, kind), &counts); err != nil {
		if ekv.Exists(err) {
			return nil, errors.WithMessage(err, "load unread counts")
		}
		// nothing saved yet for this user
		return map[string]int{}, nil
	}
	return counts, nil
}

func (s *KVStore) Save(user string, kind Kind, counts map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.WithMessage(s.kv.SetInterface(storageKey(user, kind), counts), "save unread counts")
}

var unreadBucket = []byte("unread")

// BoltStore keeps counters in a single bbolt file.
type BoltStore struct {
	db *bolt.DB
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt store %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(unreadBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create unread bucket")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Load(user string, kind Kind) (map[string]int, error) {
	counts := map[string]int{}
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(unreadBucket).Get([]byte(storageKey(user, kind)))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &counts)
	})
	if err != nil {
		return nil, errors.Wrap(err, "load unread counts")
	}
	return counts, nil
}

func (s *BoltStore) Save(user string, kind Kind, counts map[string]int) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return errors.Wrap(err, "encode unread counts")
	}
	return errors.Wrap(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(unreadBucket).Put([]byte(storageKey(user, kind)), data)
	}), "save unread counts")
}
