package cmap

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

type (
	Option[K comparable] struct {
		Count int         // number of shards
		Hash  func(K) int // optional custom hash
	}
	// Sharded spreads keys over several CMaps to reduce lock contention.
	Sharded[K comparable, V any] struct {
		shards []*CMap[K, V]
		opt    Option[K]
	}
)

func NewSharded[K comparable, V any](opt Option[K]) *Sharded[K, V] {
	if opt.Count <= 0 {
		opt.Count = 16
	}
	shards := make([]*CMap[K, V], opt.Count)
	for i := range shards {
		shards[i] = New[K, V]()
	}
	return &Sharded[K, V]{shards: shards, opt: opt}
}

func (s *Sharded[K, V]) shard(key K) *CMap[K, V] {
	var hash uint32
	if s.opt.Hash != nil {
		hash = uint32(s.opt.Hash(key))
	} else {
		h := fnv.New32a()
		switch k := any(key).(type) {
		case string:
			h.Write([]byte(k))
		case uint64:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], k)
			h.Write(b[:])
		case int:
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], uint64(k))
			h.Write(b[:])
		default:
			fmt.Fprintf(h, "%v", key)
		}
		hash = h.Sum32()
	}
	return s.shards[hash%uint32(len(s.shards))]
}

func (s *Sharded[K, V]) Has(key K) bool {
	return s.shard(key).Has(key)
}

func (s *Sharded[K, V]) Get(key K) (V, bool) {
	return s.shard(key).Get(key)
}

func (s *Sharded[K, V]) Set(key K, value V) {
	s.shard(key).Set(key, value)
}

func (s *Sharded[K, V]) Delete(key K) (V, bool) {
	return s.shard(key).Delete(key)
}

// Iterator visits every pair until fn returns false.
func (s *Sharded[K, V]) Iterator(fn func(K, V) bool) {
	for _, shard := range s.shards {
		cont := true
		shard.Iterator(func(k K, v V) bool {
			cont = fn(k, v)
			return cont
		})
		if !cont {
			break
		}
	}
}

func (s *Sharded[K, V]) Values() []V {
	var vals []V
	for _, shard := range s.shards {
		vals = append(vals, shard.Values()...)
	}
	return vals
}

func (s *Sharded[K, V]) Len() int {
	total := 0
	for _, shard := range s.shards {
		total += shard.Len()
	}
	return total
}

func (s *Sharded[K, V]) Clear() {
	for _, shard := range s.shards {
		shard.Clear()
	}
}
