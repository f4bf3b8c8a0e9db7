package storage

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

var defaultBucket = []byte("cache")

type boltDriver struct{}

func (boltDriver) Open(options *StorageOptions) (Cache, error) {
	db, err := bolt.Open(defaultBoltPath(options.Endpoint), 0644, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &boltCache{db}, nil
}

// boltCache stores values with an 8-byte big-endian unix-nano expiry
// prefix so Get can reject stale entries without a second bucket.
type boltCache struct {
	db *bolt.DB
}

func (c *boltCache) Has(key string) (bool, error) {
	_, err := c.Get(key)
	if err == ErrNotFound || err == ErrExpired {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *boltCache) Get(key string) (value []byte, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(defaultBucket).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		if len(raw) < 8 {
			return ErrNotFound
		}
		exp := int64(binary.BigEndian.Uint64(raw[:8]))
		if exp != 0 && time.Now().UnixNano() > exp {
			return ErrExpired
		}
		value = append([]byte{}, raw[8:]...)
		return nil
	})
	return
}

func (c *boltCache) Set(key string, value []byte, ttl time.Duration) error {
	var exp int64
	if ttl > 0 {
		exp = time.Now().Add(ttl).UnixNano()
	}
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(exp))
	copy(buf[8:], value)
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(defaultBucket).Put([]byte(key), buf)
	})
}

func (c *boltCache) Delete(key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(defaultBucket).Delete([]byte(key))
	})
}

func (c *boltCache) Flush() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.DeleteBucket(defaultBucket)
	})
}

func init() {
	Register("bolt", boltDriver{})
}
