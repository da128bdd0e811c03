// journal_bolt.go - Crowdlog relay BoltDB journal.
// Copyright (C) 2025  The Crowdlog Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/crowdlog/core/log"
)

const (
	// BoltJournalPath is the journal file name inside the DataDir.
	BoltJournalPath = "journal.db"

	boltEntriesBucket = "entries"
	boltKeySize       = 8
)

var errMissingBucket = errors.New("buffer/bolt: entries bucket is missing")

type journalRecord struct {
	ReceivedAt time.Time
	Line       string
}

type boltJournal struct {
	log *logging.Logger
	db  *bolt.DB
}

func boltKey(id uint64) []byte {
	var k [boltKeySize]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

func (j *boltJournal) Append(lines []string) ([]uint64, error) {
	now := time.Now()
	ids := make([]uint64, 0, len(lines))
	err := j.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(boltEntriesBucket))
		if bkt == nil {
			return errMissingBucket
		}
		for _, l := range lines {
			id, err := bkt.NextSequence()
			if err != nil {
				return err
			}
			b, err := cbor.Marshal(&journalRecord{ReceivedAt: now, Line: l})
			if err != nil {
				return err
			}
			if err = bkt.Put(boltKey(id), b); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (j *boltJournal) Remove(ids []uint64) error {
	start := time.Now()
	err := j.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(boltEntriesBucket))
		if bkt == nil {
			return errMissingBucket
		}
		for _, id := range ids {
			if err := bkt.Delete(boltKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		j.log.Debugf("Remove(): Removed %v (Elapsed: %v).", len(ids), time.Since(start))
	}
	return err
}

func (j *boltJournal) Load() ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(boltEntriesBucket))
		if bkt == nil {
			return errMissingBucket
		}
		return bkt.ForEach(func(k, v []byte) error {
			if len(k) != boltKeySize {
				j.log.Warningf("Skipping entry with malformed key: %x", k)
				return nil
			}
			var rec journalRecord
			if err := cbor.Unmarshal(v, &rec); err != nil {
				j.log.Warningf("Skipping malformed entry %x: %v", k, err)
				return nil
			}
			entries = append(entries, Entry{ID: binary.BigEndian.Uint64(k), Line: rec.Line})
			return nil
		})
	})
	return entries, err
}

func (j *boltJournal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// NewBoltJournal opens, creating if needed, the journal in dataDir.
func NewBoltJournal(dataDir string, logBackend *log.Backend) (Journal, error) {
	j := &boltJournal{
		log: logBackend.GetLogger("buffer/bolt"),
	}

	f := filepath.Join(dataDir, BoltJournalPath)
	db, err := bolt.Open(f, 0600, &bolt.Options{
		Timeout:        time.Second,
		NoFreelistSync: true,
	})
	if err != nil {
		return nil, fmt.Errorf("buffer/bolt: failed to open db: %w", err)
	}
	j.db = db
	if err = j.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltEntriesBucket))
		return err
	}); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}
