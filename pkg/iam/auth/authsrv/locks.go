package authsrv

import (
	"hash/fnv"
	"sync"
)

// stripedMutex provides per-key mutual exclusion over a fixed set of
// shards. Keys hashing to the same shard serialize against each other,
// which is acceptable: the guarantee needed is that the same key never
// runs concurrently.
type stripedMutex struct {
	shards [64]sync.Mutex
}

func (s *stripedMutex) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &s.shards[h.Sum32()%uint32(len(s.shards))]
	m.Lock()
	return m.Unlock
}
