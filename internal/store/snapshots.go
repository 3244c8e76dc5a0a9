package store

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/boltdb/bolt"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketMeta      = []byte("meta")
	keyVersion      = []byte("version")
)

// SnapshotStore persists pinned commit generations and their reference
// counts in a bolt database.
type SnapshotStore struct {
	db *bolt.DB
}

// OpenSnapshotStore opens or creates the store at path. A relative path is
// resolved against base.
func OpenSnapshotStore(base, path string) (*SnapshotStore, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SnapshotStore{db: db}, nil
}

func genKey(gen int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(gen))
	return buf
}

// Load returns generation -> refcount for every pinned commit.
func (s *SnapshotStore) Load() (map[int64]int, error) {
	refs := make(map[int64]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(k, v []byte) error {
			if len(k) != 8 || len(v) != 8 {
				return fmt.Errorf("%w: malformed snapshot entry", ErrCorruptIndex)
			}
			refs[int64(binary.BigEndian.Uint64(k))] = int(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	return refs, err
}

// Save replaces the stored map with refs and bumps the store version.
func (s *SnapshotStore) Save(refs map[int64]int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSnapshots); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketSnapshots)
		if err != nil {
			return err
		}
		for gen, count := range refs {
			if count <= 0 {
				continue
			}
			if err := b.Put(genKey(gen), genKey(int64(count))); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMeta)
		var version uint64
		if data := meta.Get(keyVersion); data != nil {
			version = binary.BigEndian.Uint64(data)
		}
		return meta.Put(keyVersion, genKey(int64(version+1)))
	})
}

// Version returns how many times Save has succeeded.
func (s *SnapshotStore) Version() (uint64, error) {
	var version uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyVersion); data != nil {
			version = binary.BigEndian.Uint64(data)
		}
		return nil
	})
	return version, err
}

func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
