package database

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snowflake generates unique, time-ordered 64-bit message IDs.
// Layout: 1 bit unused | 41 bits milliseconds since epoch | 10 bits worker | 12 bits sequence
type Snowflake struct {
	epoch    int64
	workerID int64
	state    int64 // upper bits = last millisecond, lower 12 bits = sequence
	nowMilli func() int64
}

const (
	workerIDBits   = 10
	sequenceBits   = 12
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
	sequenceMask   = (1 << sequenceBits) - 1
	maxWorkerID    = (1 << workerIDBits) - 1
)

// defaultEpoch is 2024-01-01T00:00:00Z
var defaultEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// NewSnowflake creates a generator. Out-of-range worker IDs fall back to 0.
func NewSnowflake(epoch int64, workerID int64) *Snowflake {
	if workerID < 0 || workerID > maxWorkerID {
		workerID = 0
	}
	return &Snowflake{
		epoch:    epoch,
		workerID: workerID,
		nowMilli: func() int64 { return time.Now().UnixMilli() },
	}
}

// NextID returns the next ID. IDs from one generator are strictly increasing,
// including when the wall clock steps backwards.
func (s *Snowflake) NextID() int64 {
	for {
		old := atomic.LoadInt64(&s.state)
		last := old >> sequenceBits
		seq := old & sequenceMask

		now := s.nowMilli()
		if now < last {
			now = last
		}

		var next int64
		if now == last {
			seq = (seq + 1) & sequenceMask
			if seq == 0 {
				// sequence exhausted for this millisecond, borrow the next one
				now = last + 1
			}
			next = now<<sequenceBits | seq
		} else {
			seq = 0
			next = now << sequenceBits
		}

		if atomic.CompareAndSwapInt64(&s.state, old, next) {
			return (now-s.epoch)<<timestampShift | s.workerID<<workerIDShift | seq
		}
	}
}

// stamper hands out (id, createdAt) pairs so that both are ordered the same way
// and createdAt never decreases between appends.
type stamper struct {
	mu   sync.Mutex
	ids  *Snowflake
	last time.Time
	now  func() time.Time
}

func newStamper() *stamper {
	return &stamper{
		ids: NewSnowflake(defaultEpoch, 0),
		now: time.Now,
	}
}

func (s *stamper) next() (int64, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now().UTC().Truncate(time.Millisecond)
	if at.Before(s.last) {
		at = s.last
	}
	s.last = at
	return s.ids.NextID(), at
}

// seed raises the clock floor, used after reopening an existing store
func (s *stamper) seed(floor time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if floor.After(s.last) {
		s.last = floor.UTC()
	}
}
