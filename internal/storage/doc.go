// Package storage provides the durable pairing store for mesh2gram.
//
// Pairing records are small and few, so the store favors simplicity:
// every record is written through to Badger at mutation time, and the
// entire record set is loaded back into memory at startup.
package storage
