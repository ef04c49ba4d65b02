// Package outbox is a durable queue of committed changes waiting to be
// published. Entries move NEW -> SENT -> ACKED, or to FAILED with a retry
// count; ACKED entries are deleted by the publisher.
package outbox

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"epochbook/domain/orderbook"
	"epochbook/infra/sequence"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type Entry struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Change      orderbook.Change
}

const (
	keyPrefix  = "change/"
	metaSize   = 1 + 4 + 8
	upperBound = "change/~"
)

var ErrCorrupt = errors.New("outbox: corrupt entry")

// Outbox stores entries in pebble under change/<seq>.
type Outbox struct {
	db  *pebble.DB
	seq *sequence.Sequencer
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}

	o := &Outbox{db: db, seq: sequence.New(0)}
	last, err := o.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	o.seq.AdvanceTo(last)
	return o, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// Record appends c as a NEW entry. It satisfies service.ChangeSink.
func (o *Outbox) Record(c orderbook.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "encode change")
	}
	seq := o.seq.Next()
	return o.db.Set(keyFor(seq), encode(Entry{State: StateNew}, payload), pebble.Sync)
}

// UpdateState moves seq to state and stamps the attempt time.
func (o *Outbox) UpdateState(seq uint64, state State, retries uint32) error {
	e, err := o.Get(seq)
	if err != nil {
		return err
	}
	e.State = state
	e.Retries = retries
	e.LastAttempt = time.Now().UnixNano()

	payload, err := json.Marshal(e.Change)
	if err != nil {
		return errors.Wrap(err, "encode change")
	}
	return o.db.Set(keyFor(seq), encode(e, payload), pebble.Sync)
}

func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (Entry, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return Entry{}, errors.Wrapf(err, "outbox entry %d", seq)
	}
	defer closer.Close()
	return decode(seq, val)
}

// Scan calls fn for every entry whose state is one of states, in sequence
// order. fn must not write to the outbox.
func (o *Outbox) Scan(fn func(Entry) error, states ...State) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(upperBound),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		e, err := decode(seq, iter.Value())
		if err != nil {
			return err
		}
		if !matches(e.State, states) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Pending collects up to limit entries not yet acknowledged, oldest first.
// SENT entries are included: one left in that state was interrupted before
// its acknowledgement was stored. limit <= 0 means all.
func (o *Outbox) Pending(limit int) ([]Entry, error) {
	var out []Entry
	stop := errors.New("stop")
	err := o.Scan(func(e Entry) error {
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			return stop
		}
		return nil
	}, StateNew, StateSent, StateFailed)
	if err != nil && !errors.Is(err, stop) {
		return nil, err
	}
	return out, nil
}

func (o *Outbox) lastSeq() (uint64, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(upperBound),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

func matches(s State, states []State) bool {
	if len(states) == 0 {
		return true
	}
	for _, want := range states {
		if s == want {
			return true
		}
	}
	return false
}

// value layout: [state:1][retries:4][lastAttempt:8][change json]
func encode(e Entry, payload []byte) []byte {
	buf := make([]byte, metaSize+len(payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	copy(buf[metaSize:], payload)
	return buf
}

func decode(seq uint64, b []byte) (Entry, error) {
	if len(b) < metaSize {
		return Entry{}, errors.Wrapf(ErrCorrupt, "entry %d: %d bytes", seq, len(b))
	}
	e := Entry{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
	}
	if err := json.Unmarshal(b[metaSize:], &e.Change); err != nil {
		return Entry{}, errors.Wrapf(ErrCorrupt, "entry %d: %v", seq, err)
	}
	return e, nil
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	s := string(b)
	if len(s) <= len(keyPrefix) || s[:len(keyPrefix)] != keyPrefix {
		return 0, errors.Wrapf(ErrCorrupt, "key %q", s)
	}
	seq, err := strconv.ParseUint(s[len(keyPrefix):], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrCorrupt, "key %q", s)
	}
	return seq, nil
}

// Payload is the JSON form of c published to the broker.
func Payload(c orderbook.Change) ([]byte, error) {
	return json.Marshal(c)
}
