// Zaparoo Lens
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Lens.
//
// Zaparoo Lens is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Lens is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Lens.  If not, see <http://www.gnu.org/licenses/>.

// Package store persists reconnect state between runs.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

const (
	DBFile = "lens.db"

	bucketState = "state"
	keyLastPair = "last_pair"
)

var ErrNoBucket = errors.New("state bucket missing")

// LastPair is the reconnect record for the most recent device.
type LastPair struct {
	Channel          string `json:"channel"`
	ConnectedAt      int64  `json:"connectedAt"`
	UserDisconnected bool   `json:"userDisconnected"`
}

type Store struct {
	bdb *bolt.DB
	now func() time.Time
}

// Open opens or creates the store in dataDir.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, DBFile)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(txn *bolt.Tx) error {
		_, err := txn.CreateBucketIfNotExists([]byte(bucketState))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("error closing store after failed init")
		}
		return nil, err
	}

	log.Debug().Str("path", path).Msg("opened store")
	return &Store{bdb: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if err := s.bdb.Close(); err != nil {
		return fmt.Errorf("failed to close bolt database: %w", err)
	}
	return nil
}

func (s *Store) read() (LastPair, bool, error) {
	var (
		lp    LastPair
		found bool
	)
	err := s.bdb.View(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(bucketState))
		if b == nil {
			return ErrNoBucket
		}
		v := b.Get([]byte(keyLastPair))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &lp); err != nil {
			return fmt.Errorf("failed to unmarshal last pair: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return LastPair{}, false, fmt.Errorf("failed to view bolt database: %w", err)
	}
	return lp, found, nil
}

func (s *Store) write(lp LastPair) error {
	data, err := json.Marshal(lp)
	if err != nil {
		return fmt.Errorf("failed to marshal last pair: %w", err)
	}
	err = s.bdb.Update(func(txn *bolt.Tx) error {
		b := txn.Bucket([]byte(bucketState))
		if b == nil {
			return ErrNoBucket
		}
		return b.Put([]byte(keyLastPair), data)
	})
	if err != nil {
		return fmt.Errorf("failed to update bolt database: %w", err)
	}
	return nil
}

// LastPair returns the full reconnect record.
func (s *Store) LastPair() (LastPair, bool, error) {
	return s.read()
}

// LastConnected returns the channel to reconnect to. ok is false when
// nothing was saved or the user disconnected on purpose.
func (s *Store) LastConnected() (string, bool, error) {
	lp, found, err := s.read()
	if err != nil || !found || lp.UserDisconnected || lp.Channel == "" {
		return "", false, err
	}
	return lp.Channel, true, nil
}

// SaveLastConnected records a successful connection and clears any
// earlier user disconnect.
func (s *Store) SaveLastConnected(channel string) error {
	return s.write(LastPair{
		Channel:     channel,
		ConnectedAt: s.now().Unix(),
	})
}

// SetUserDisconnected marks whether the last device was unpaired by the
// user, which suppresses automatic reconnects.
func (s *Store) SetUserDisconnected(disconnected bool) error {
	lp, _, err := s.read()
	if err != nil {
		return err
	}
	lp.UserDisconnected = disconnected
	return s.write(lp)
}
