// Package storage provides the in-memory sharded storage engine for shardis.
//
// The keyspace is partitioned into a fixed number of shards selected by
// hashing the key, each shard guarded by its own mutex. This bounds lock
// contention: operations on keys that hash to different shards never
// contend. Each shard also owns the waiter registry used by BLPop to
// suspend callers until a push lands on one of their candidate keys.
//
// All operations are short critical sections; no shard lock is ever held
// across an I/O boundary or while a BLPop caller is suspended.
package storage
