package webhook

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/c360/telemetryhub/errors"
)

// deliveryKeyPrefix namespaces delivery rows inside the database.
const deliveryKeyPrefix = "wd/"

// PebbleLog is a DeliveryLog persisted in a Pebble database. Rows are
// keyed "wd/{deliveryID}/{seq}" with a big-endian sequence so a prefix
// scan yields the history in write order and survives restarts.
type PebbleLog struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// OpenPebbleLog opens (or creates) a delivery log at dir.
func OpenPebbleLog(dir string) (*PebbleLog, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.WrapFatal(err, "PebbleLog", "OpenPebbleLog", "open "+dir)
	}

	l := &PebbleLog{db: db}
	if err := l.recoverSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// recoverSeq resumes the sequence counter past the highest stored row.
func (l *PebbleLog) recoverSeq() error {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(deliveryKeyPrefix),
		UpperBound: []byte(deliveryKeyPrefix + "\xff"),
	})
	if err != nil {
		return errors.WrapFatal(err, "PebbleLog", "recoverSeq", "iterator")
	}
	defer iter.Close()

	var maxSeq uint64
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < 8 {
			continue
		}
		if seq := binary.BigEndian.Uint64(key[len(key)-8:]); seq > maxSeq {
			maxSeq = seq
		}
	}
	l.seq.Store(maxSeq)
	return nil
}

func deliveryKey(deliveryID string, seq uint64) []byte {
	key := make([]byte, 0, len(deliveryKeyPrefix)+len(deliveryID)+9)
	key = append(key, deliveryKeyPrefix...)
	key = append(key, deliveryID...)
	key = append(key, '/')
	key = binary.BigEndian.AppendUint64(key, seq)
	return key
}

// Record implements DeliveryLog.
func (l *PebbleLog) Record(_ context.Context, d Delivery) error {
	row, err := json.Marshal(d)
	if err != nil {
		return errors.WrapInvalid(err, "PebbleLog", "Record", "marshal delivery")
	}

	key := deliveryKey(d.ID, l.seq.Add(1))
	if err := l.db.Set(key, row, pebble.Sync); err != nil {
		return errors.WrapTransient(err, "PebbleLog", "Record", "write delivery "+d.ID)
	}
	return nil
}

// Get implements DeliveryLog.
func (l *PebbleLog) Get(ctx context.Context, deliveryID string) (Delivery, error) {
	rows, err := l.History(ctx, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	return rows[len(rows)-1], nil
}

// History implements DeliveryLog.
func (l *PebbleLog) History(_ context.Context, deliveryID string) ([]Delivery, error) {
	prefix := deliveryKeyPrefix + deliveryID + "/"
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "PebbleLog", "History", "iterator")
	}
	defer iter.Close()

	var rows []Delivery
	for iter.First(); iter.Valid(); iter.Next() {
		var d Delivery
		if err := json.Unmarshal(iter.Value(), &d); err != nil {
			return nil, errors.WrapInvalid(err, "PebbleLog", "History", "decode row")
		}
		rows = append(rows, d)
	}
	if len(rows) == 0 {
		return nil, errors.WrapInvalid(errors.ErrKeyNotFound, "PebbleLog", "History", "delivery "+deliveryID)
	}
	return rows, nil
}

// Close implements DeliveryLog.
func (l *PebbleLog) Close() error {
	return l.db.Close()
}
