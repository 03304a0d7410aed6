// Package util holds the hashing helpers shared by the database engines and by
// the store layer: random seeds, a seeded FNV-1a string hash, and a stable
// key-to-shard mapping.
package util
