// Package pmemkv implements a small family of key-value storage engines
// over byte-addressable persistent memory. The engines share one façade
// (Put/Get/Exists/Remove/Count/All/Each) and differ only in how they lay
// keys and values out in persistent memory:
//
//   - tree3 (package github.com/bpowers/pmemkv/tree3) is a hybrid B+ tree
//     whose inner nodes are volatile and whose leaves are persistent,
//     rebuilt from the persistent leaf list on every open.
//   - vsmap (package github.com/bpowers/pmemkv/vsmap) is a sorted map
//     that lives entirely inside a persistent-memory-backed allocator and
//     additionally supports range scans.
//
// Both engines are built on top of package pmem, a minimal stand-in for a
// real persistent-memory allocator and transaction manager: a pool file
// is memory-mapped, and durable transactions are staged through an undo
// log before being flushed with msync.
package pmemkv
