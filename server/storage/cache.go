// Package storage provides the durable key/value cache used to persist
// transformed module output keyed by canonical URL path.
package storage

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	logx "github.com/ije/gox/log"
	"github.com/ije/gox/utils"
)

var (
	ErrNotFound = errors.New("cache: not found")
	ErrExpired  = errors.New("cache: expired")
)

var log = &logx.Logger{}

func SetLogger(logger *logx.Logger) {
	log = logger
}

// Cache is the narrow key/value contract the request orchestrator builds
// on: a point lookup, an upsert with optional TTL, and invalidation. No
// in-process memoization lives here — callers that want that front this
// with their own layer.
type Cache interface {
	Has(key string) (bool, error)
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Flush() error
}

// StorageOptions configures which Cache driver New opens and where.
type StorageOptions struct {
	Type            string `json:"type"`
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"accessKeyID"`
	SecretAccessKey string `json:"secretAccessKey"`
}

var drivers sync.Map

type Driver interface {
	Open(options *StorageOptions) (Cache, error)
}

func Register(name string, driver Driver) {
	drivers.Store(name, driver)
}

// New opens the Cache driver named by options.Type ("bolt" by default,
// or "s3" for an S3-compatible object store).
func New(options *StorageOptions) (Cache, error) {
	name := options.Type
	if name == "" {
		name = "bolt"
	}
	v, ok := drivers.Load(name)
	if !ok {
		return nil, fmt.Errorf("storage: unknown driver %q", name)
	}
	return v.(Driver).Open(options)
}

func parseConfigURL(raw string) (root string, options url.Values, err error) {
	root, query := utils.SplitByFirstByte(raw, '?')
	if query != "" {
		options, err = url.ParseQuery(query)
	}
	return
}

func defaultBoltPath(endpoint string) string {
	if endpoint == "" {
		return "cache.db"
	}
	return path.Join(endpoint, "cache.db")
}
