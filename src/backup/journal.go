package backup

import (
	"fmt"

	"github.com/dgraph-io/badger"
)

const journalKeyPrefix = "snapshot/"

// Journal records snapshot history in a local badger database on the data
// volume. It is advisory: losing it costs nothing but the local history,
// since the descriptors in the object store are authoritative.
type Journal struct {
	db *badger.DB
}

// OpenJournal opens or creates the journal database in dir.
func OpenJournal(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close ...
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends a snapshot descriptor to the journal, keyed by its
// timestamp.
func (j *Journal) Record(timestamp string, desc *BackupDescriptor) error {
	data, err := desc.Bytes()
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(journalKeyPrefix+timestamp), data)
	})
}

// Last returns the most recent recorded snapshot, or nil if none exists.
func (j *Journal) Last() (*BackupDescriptor, error) {
	var last *BackupDescriptor

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(journalKeyPrefix)
		it.Seek(append(prefix, 0xff))
		if !it.ValidForPrefix(prefix) {
			return nil
		}

		return it.Item().Value(func(val []byte) error {
			var err error
			last, err = ParseDescriptor(val)
			return err
		})
	})
	if err != nil {
		return nil, fmt.Errorf("journal read: %v", err)
	}

	return last, nil
}

// Count returns the number of recorded snapshots.
func (j *Journal) Count() (int, error) {
	n := 0
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(journalKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
