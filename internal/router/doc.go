// Package router maps account identifiers to shard indices.
//
// Routing is a pure function: an FNV-1a hash of the account identifier
// reduced modulo the shard count. The shard count is fixed at genesis, so
// the same identifier routes to the same shard for the lifetime of the
// network, which is what replay determinism and light-client lookups rely
// on. Accounts never migrate between shards; re-sharding would require a
// coordinated procedure that is out of scope here.
package router
