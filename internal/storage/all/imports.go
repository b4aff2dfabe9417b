// Package all registers every built-in storage backend with the storage
// factory. Import it for side effects from the command wiring:
//
//	import _ "recordload/internal/storage/all"
//
// Registered kinds: "cassandra" and "scylla" (same driver), "postgres",
// "sqlite", "memory".
package all

import (
	_ "recordload/internal/storage/cassandra"
	_ "recordload/internal/storage/memory"
	_ "recordload/internal/storage/postgres"
	_ "recordload/internal/storage/sqlite"
)
