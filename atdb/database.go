// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

// Package atdb persists AT code images and per-round machine snapshots in a
// leveldb key-value store.
package atdb

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Key prefixes. Code is written once at creation; the snapshot is rewritten
// after every round.
const (
	prefixCode  = 'c'
	prefixState = 's'
)

// Database wraps a leveldb instance keyed by 32-byte AT identifiers.
type Database struct {
	db *leveldb.DB
}

// New opens (or creates) a database at the given path.
func New(path string) (*Database, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

// NewMemory opens a database backed by in-memory storage, for tests and the
// simulator.
func NewMemory() (*Database, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Database{db: db}, nil
}

func key(prefix byte, id [32]byte) []byte {
	k := make([]byte, 33)
	k[0] = prefix
	copy(k[1:], id[:])
	return k
}

// PutCode stores an AT's immutable code image.
func (d *Database) PutCode(id [32]byte, code []byte) error {
	return d.db.Put(key(prefixCode, id), code, nil)
}

// GetCode loads an AT's code image.
func (d *Database) GetCode(id [32]byte) ([]byte, error) {
	return d.db.Get(key(prefixCode, id), nil)
}

// PutState stores an AT's machine snapshot.
func (d *Database) PutState(id [32]byte, snap []byte) error {
	return d.db.Put(key(prefixState, id), snap, nil)
}

// GetState loads an AT's machine snapshot.
func (d *Database) GetState(id [32]byte) ([]byte, error) {
	return d.db.Get(key(prefixState, id), nil)
}

// HasState reports whether a snapshot exists for the AT.
func (d *Database) HasState(id [32]byte) (bool, error) {
	return d.db.Has(key(prefixState, id), nil)
}

// DeleteAT removes both the code image and the snapshot of an AT.
func (d *Database) DeleteAT(id [32]byte) error {
	if err := d.db.Delete(key(prefixCode, id), nil); err != nil {
		return err
	}
	return d.db.Delete(key(prefixState, id), nil)
}

// Close releases the underlying store.
func (d *Database) Close() error {
	return d.db.Close()
}
