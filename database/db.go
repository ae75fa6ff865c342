// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Tx represents a database transaction.  It is created through the View or
// Update functions on a DB instance.
//
// Reads are served from a consistent snapshot taken when the transaction
// begins.  Writes performed through a writable transaction are staged in a
// batch and atomically committed when the closure that owns the transaction
// returns without error, so reads within the same transaction do not observe
// its own staged writes.
type Tx interface {
	// Get returns the value for the given key.  It returns nil if the key
	// does not exist.  The returned slice must not be modified.
	Get(key []byte) ([]byte, error)

	// Has returns whether or not the given key exists.
	Has(key []byte) (bool, error)

	// Put stores the value for the given key.  Returns ErrTxNotWritable for
	// read-only transactions.
	Put(key, value []byte) error

	// Delete removes the given key.  Deleting a key that does not exist is
	// not an error.  Returns ErrTxNotWritable for read-only transactions.
	Delete(key []byte) error

	// ForEachPrefix invokes the provided function for each key/value pair
	// with the given key prefix in lexicographic key order.  Returning an
	// error from the function stops the iteration and propagates the error.
	ForEachPrefix(prefix []byte, fn func(key, value []byte) error) error
}

// transaction implements the Tx interface on top of a leveldb snapshot and
// write batch.
type transaction struct {
	snapshot *leveldb.Snapshot
	batch    *leveldb.Batch
	writable bool
}

// convertErr converts the passed leveldb error into a database error with an
// equivalent error kind.  Not-found errors are not converted since they are
// filtered out before this is called.
func convertErr(desc string, ldbErr error) Error {
	kind := ErrorKind("ErrDriverSpecific")
	if ldberrors.IsCorrupted(ldbErr) {
		kind = ErrCorruption
	}
	return Error{Err: kind, Description: fmt.Sprintf("%s: %v", desc, ldbErr)}
}

// Get returns the value for the given key.  It returns nil if the key does
// not exist.
//
// This function is part of the Tx interface implementation.
func (tx *transaction) Get(key []byte) ([]byte, error) {
	value, err := tx.snapshot.Get(key, nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, nil
		}
		return nil, convertErr("get failed", err)
	}
	return value, nil
}

// Has returns whether or not the given key exists.
//
// This function is part of the Tx interface implementation.
func (tx *transaction) Has(key []byte) (bool, error) {
	exists, err := tx.snapshot.Has(key, nil)
	if err != nil {
		return false, convertErr("has failed", err)
	}
	return exists, nil
}

// Put stores the value for the given key.
//
// This function is part of the Tx interface implementation.
func (tx *transaction) Put(key, value []byte) error {
	if !tx.writable {
		str := "put requires a writable database transaction"
		return makeError(ErrTxNotWritable, str)
	}
	tx.batch.Put(key, value)
	return nil
}

// Delete removes the given key.
//
// This function is part of the Tx interface implementation.
func (tx *transaction) Delete(key []byte) error {
	if !tx.writable {
		str := "delete requires a writable database transaction"
		return makeError(ErrTxNotWritable, str)
	}
	tx.batch.Delete(key)
	return nil
}

// ForEachPrefix invokes the provided function for each key/value pair with
// the given key prefix in lexicographic key order.
//
// This function is part of the Tx interface implementation.
func (tx *transaction) ForEachPrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter := tx.snapshot.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return convertErr("iteration failed", err)
	}
	return nil
}

// DB provides a concurrent-safe persistent ordered key/value store with
// atomic batched updates.  It is a thin layer over leveldb that provides the
// transaction-closure access pattern used throughout the codebase.
type DB struct {
	// closeLock is held for reads during transactions so the database can
	// not be closed out from under them.
	closeLock sync.RWMutex

	// writeLock serializes writable transactions.
	writeLock sync.Mutex

	ldb    *leveldb.DB
	closed bool
}

// Open opens the key/value store at the given path, creating it if needed.
func Open(path string) (*DB, error) {
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
	}
	ldb, err := leveldb.OpenFile(path, &opts)
	if err != nil {
		if ldberrors.IsCorrupted(err) {
			str := fmt.Sprintf("database %q is corrupted: %v", path, err)
			return nil, makeError(ErrCorruption, str)
		}
		return nil, convertErr("failed to open database "+path, err)
	}

	log.Debugf("Opened key/value store at %q", path)
	return &DB{ldb: ldb}, nil
}

// begin creates a new transaction backed by a fresh snapshot.
func (db *DB) begin(writable bool) (*transaction, error) {
	db.closeLock.RLock()
	if db.closed {
		db.closeLock.RUnlock()
		return nil, makeError(ErrDbClosed, "database is closed")
	}

	snapshot, err := db.ldb.GetSnapshot()
	if err != nil {
		db.closeLock.RUnlock()
		return nil, convertErr("failed to create snapshot", err)
	}

	tx := &transaction{snapshot: snapshot, writable: writable}
	if writable {
		tx.batch = new(leveldb.Batch)
	}
	return tx, nil
}

// View invokes the passed function in the context of a read-only transaction.
// Any errors returned from the function are propagated.
func (db *DB) View(fn func(tx Tx) error) error {
	tx, err := db.begin(false)
	if err != nil {
		return err
	}
	defer db.closeLock.RUnlock()
	defer tx.snapshot.Release()

	return fn(tx)
}

// Update invokes the passed function in the context of a writable
// transaction.  All writes staged by the function are committed atomically
// with a synchronous write when it returns nil.  When the function returns an
// error, the staged writes are discarded and the error is propagated.
//
// Atomicity means that after a crash, recovery observes either all of the
// writes of the batch or none of them.
func (db *DB) Update(fn func(tx Tx) error) error {
	db.writeLock.Lock()
	defer db.writeLock.Unlock()

	tx, err := db.begin(true)
	if err != nil {
		return err
	}
	defer db.closeLock.RUnlock()
	defer tx.snapshot.Release()

	if err := fn(tx); err != nil {
		return err
	}

	wo := opt.WriteOptions{Sync: true}
	if err := db.ldb.Write(tx.batch, &wo); err != nil {
		return convertErr("failed to commit batch", err)
	}
	return nil
}

// Close cleanly shuts down the database.  All in-flight transactions
// complete before the underlying store is closed.
func (db *DB) Close() error {
	db.closeLock.Lock()
	defer db.closeLock.Unlock()

	if db.closed {
		return makeError(ErrDbClosed, "database is closed")
	}
	db.closed = true

	if err := db.ldb.Close(); err != nil {
		return convertErr("failed to close database", err)
	}
	return nil
}
