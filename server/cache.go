package server

import (
	"github.com/dgraph-io/ristretto"
)

// manifestMemo fronts the registry's durable lookups with a short-lived
// in-process cache, keeping repeated resolves for the same package/version
// spec from hitting the registry HTTP endpoint on every request.
var manifestMemo *ristretto.Cache

func init() {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 26, // each manifest is stored with cost 1, so this caps the entry count
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}
	manifestMemo = c
}
