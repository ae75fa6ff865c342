// Copyright (c) 2018-2024 The SmartCash developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"bytes"
	"errors"
	"testing"
)

// TestUpdateAtomicity ensures writes staged in an update are only visible
// after the closure returns successfully and that returning an error discards
// them.
func TestUpdateAtomicity(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error opening db: %v", err)
	}
	defer db.Close()

	// Staged writes that end in an error must be discarded.
	errTest := errors.New("boom")
	err = db.Update(func(tx Tx) error {
		if err := tx.Put([]byte("k1"), []byte("v1")); err != nil {
			return err
		}
		return errTest
	})
	if !errors.Is(err, errTest) {
		t.Fatalf("unexpected error: %v", err)
	}
	err = db.View(func(tx Tx) error {
		value, err := tx.Get([]byte("k1"))
		if err != nil {
			return err
		}
		if value != nil {
			t.Fatalf("discarded write is visible: %q", value)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A successful update commits all staged writes.
	err = db.Update(func(tx Tx) error {
		if err := tx.Put([]byte("k1"), []byte("v1")); err != nil {
			return err
		}
		return tx.Put([]byte("k2"), []byte("v2"))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = db.View(func(tx Tx) error {
		for _, want := range []struct{ k, v string }{
			{"k1", "v1"}, {"k2", "v2"},
		} {
			value, err := tx.Get([]byte(want.k))
			if err != nil {
				return err
			}
			if !bytes.Equal(value, []byte(want.v)) {
				t.Fatalf("key %q: got %q, want %q", want.k, value, want.v)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// TestReadOnlyTx ensures writes are rejected in read-only transactions.
func TestReadOnlyTx(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error opening db: %v", err)
	}
	defer db.Close()

	err = db.View(func(tx Tx) error {
		return tx.Put([]byte("k"), []byte("v"))
	})
	if !errors.Is(err, ErrTxNotWritable) {
		t.Fatalf("got %v, want %v", err, ErrTxNotWritable)
	}
	err = db.View(func(tx Tx) error {
		return tx.Delete([]byte("k"))
	})
	if !errors.Is(err, ErrTxNotWritable) {
		t.Fatalf("got %v, want %v", err, ErrTxNotWritable)
	}
}

// TestForEachPrefix ensures prefix iteration visits exactly the keys with the
// given prefix in lexicographic order and that iteration errors propagate.
func TestForEachPrefix(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error opening db: %v", err)
	}
	defer db.Close()

	err = db.Update(func(tx Tx) error {
		for _, k := range []string{"a1", "b1", "b2", "b3", "c1"} {
			if err := tx.Put([]byte(k), []byte("v-"+k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []string
	err = db.View(func(tx Tx) error {
		return tx.ForEachPrefix([]byte("b"), func(k, v []byte) error {
			got = append(got, string(k))
			return nil
		})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"b1", "b2", "b3"}
	if len(got) != len(want) {
		t.Fatalf("got keys %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got keys %v, want %v", got, want)
		}
	}

	// Errors returned from the callback stop iteration and propagate.
	errStop := errors.New("stop")
	var visited int
	err = db.View(func(tx Tx) error {
		return tx.ForEachPrefix([]byte("b"), func(k, v []byte) error {
			visited++
			return errStop
		})
	})
	if !errors.Is(err, errStop) {
		t.Fatalf("unexpected error: %v", err)
	}
	if visited != 1 {
		t.Fatalf("iteration did not stop early: visited %d", visited)
	}
}

// TestClosedDb ensures operations against a closed database fail with
// ErrDbClosed.
func TestClosedDb(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error opening db: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("unexpected error closing db: %v", err)
	}

	err = db.View(func(tx Tx) error { return nil })
	if !errors.Is(err, ErrDbClosed) {
		t.Fatalf("got %v, want %v", err, ErrDbClosed)
	}
	err = db.Update(func(tx Tx) error { return nil })
	if !errors.Is(err, ErrDbClosed) {
		t.Fatalf("got %v, want %v", err, ErrDbClosed)
	}
	if err := db.Close(); !errors.Is(err, ErrDbClosed) {
		t.Fatalf("got %v, want %v", err, ErrDbClosed)
	}
}
