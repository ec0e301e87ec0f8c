// Package stores provides the package record storages.
// SQLiteStore persists records with modernc SQLite and embedded
// golang-migrate migrations; MemoryStore keeps them in process memory.
// Both keep an audit trail of every save, update and delete.
package stores
