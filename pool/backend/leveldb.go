package backend

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/wsldankers/fruitbak/fingerprint"
)

var levelLog = log.WithField("component", "leveldb")

// levelWriteJob is one put/del queued against a LevelDBBackend, waiting to
// be folded into the next batched write.
type levelWriteJob struct {
	op       func(batch *leveldb.Batch)
	callback func(error)
}

// LevelDBBackend is the LSM-tree flavour of KeyValueBackend (spec.md
// §4.1.2), grounded the same way BoltBackend is: one `*leveldb.DB` per
// pool, reads each in their own snapshot on the shared worker pool, writes
// coalesced into a single `leveldb.Batch` by a batching loop mirroring
// `original_source/fruitbak/pool/storage/lmdb.py`'s writer thread.
type LevelDBBackend struct {
	db      *leveldb.DB
	workers *WorkerPool

	mu      sync.Mutex
	pending []*levelWriteJob
	writing bool
}

// NewLevelDBBackend opens (creating if necessary) a goleveldb database at path.
func NewLevelDBBackend(path string, workers int) (*LevelDBBackend, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening leveldb database")
	}
	return &LevelDBBackend{db: db, workers: NewWorkerPool(workers)}, nil
}

func (b *LevelDBBackend) Close() error { return b.db.Close() }

func (b *LevelDBBackend) Has(fp fingerprint.Fingerprint, callback func(found bool, err error)) {
	b.workers.Submit(func() {
		found, err := b.db.Has(fp, nil)
		if err != nil {
			callback(false, IOError("has", fp, err))
			return
		}
		callback(found, nil)
	})
}

func (b *LevelDBBackend) Get(fp fingerprint.Fingerprint, callback func(value []byte, err error)) {
	b.workers.Submit(func() {
		value, err := b.db.Get(fp, nil)
		if err != nil {
			if err == leveldb.ErrNotFound {
				callback(nil, ErrNotFound(fp))
				return
			}
			callback(nil, IOError("get", fp, err))
			return
		}
		callback(value, nil)
	})
}

func (b *LevelDBBackend) Put(fp fingerprint.Fingerprint, value []byte, callback func(err error)) {
	fpCopy := append(fingerprint.Fingerprint(nil), fp...)
	valueCopy := append([]byte(nil), value...)
	b.enqueueWrite(func(batch *leveldb.Batch) {
		if found, err := b.db.Has(fpCopy, nil); err == nil && found {
			return
		}
		batch.Put(fpCopy, valueCopy)
	}, callback)
}

func (b *LevelDBBackend) Del(fp fingerprint.Fingerprint, callback func(err error)) {
	fpCopy := append(fingerprint.Fingerprint(nil), fp...)
	b.enqueueWrite(func(batch *leveldb.Batch) {
		batch.Delete(fpCopy)
	}, callback)
}

func (b *LevelDBBackend) enqueueWrite(op func(batch *leveldb.Batch), callback func(error)) {
	job := &levelWriteJob{op: op, callback: callback}

	b.mu.Lock()
	b.pending = append(b.pending, job)
	start := !b.writing
	if start {
		b.writing = true
	}
	b.mu.Unlock()

	if start {
		go b.drainWrites()
	}
}

// drainWrites folds every currently-queued write into one leveldb.Batch
// and applies it in a single Write call, repeating until the queue is
// empty (spec.md §4.1.2's "bounded write-transaction churn"). A failed
// batch write poisons every job in that batch with the same error.
func (b *LevelDBBackend) drainWrites() {
	for {
		b.mu.Lock()
		jobs := b.pending
		b.pending = nil
		if len(jobs) == 0 {
			b.writing = false
			b.mu.Unlock()
			return
		}
		b.mu.Unlock()

		batch := new(leveldb.Batch)
		for _, job := range jobs {
			job.op(batch)
		}
		err := b.db.Write(batch, nil)
		logIfEnabled(levelLog, logrus.DebugLevel, "flushed write batch", logrus.Fields{
			"count": len(jobs),
			"error": err,
		})
		for _, job := range jobs {
			job.callback(err)
		}
	}
}

// List enumerates every stored fingerprint in key order (spec.md §4.1).
func (b *LevelDBBackend) List() Lister {
	return &levelLister{iter: b.db.NewIterator(nil, nil)}
}

type levelLister struct {
	iter interface {
		Next() bool
		Key() []byte
		Error() error
		Release()
	}
	started bool
}

func (l *levelLister) Next() (fingerprint.Fingerprint, bool, error) {
	if !l.iter.Next() {
		if err := l.iter.Error(); err != nil {
			return nil, false, errors.Wrap(err, "iterating leveldb")
		}
		return nil, false, nil
	}
	return append(fingerprint.Fingerprint(nil), l.iter.Key()...), true, nil
}

func (l *levelLister) Close() error {
	l.iter.Release()
	return nil
}
