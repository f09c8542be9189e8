// Package ivreuse tells genuine IV reuse apart from retransmissions.
//
// A retransmitted frame repeats both the IV and the sequence number, usually
// within milliseconds. A frame that repeats an IV with a new sequence number,
// long after the first use, points at a broken key-stream implementation.
package ivreuse

import (
	"fmt"
	"time"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// DefaultMinGap is how long after the first use a repeated IV must appear
// before it counts as reuse.
const DefaultMinGap = time.Second

// Record is the most recent observation of one IV.
type Record struct {
	IV   uint64
	Seq  uint16
	Time time.Time
}

// Engine keeps one record per IV. It is not safe for concurrent use.
type Engine struct {
	MinGap time.Duration

	records map[uint64]Record
	maxIV   uint64
}

func NewEngine() *Engine {
	return &Engine{
		MinGap:  DefaultMinGap,
		records: make(map[uint64]Record),
	}
}

// Track upserts the record for the frame's IV.
func (e *Engine) Track(frame *domain.Frame) error {
	iv, err := frame.IV()
	if err != nil {
		return fmt.Errorf("track: %w", err)
	}
	if len(e.records) == 0 || iv > e.maxIV {
		e.maxIV = iv
	}
	e.records[iv] = Record{IV: iv, Seq: frame.SequenceNumber(), Time: frame.Timestamp}
	return nil
}

// IsReused reports whether the frame repeats a tracked IV with a different
// sequence number, at least MinGap after the tracked use.
func (e *Engine) IsReused(frame *domain.Frame) (bool, error) {
	rec, ok, err := e.lookup(frame)
	if err != nil || !ok {
		return false, err
	}
	if rec.Seq == frame.SequenceNumber() {
		return false, nil
	}
	return !frame.Timestamp.Before(rec.Time.Add(e.MinGap)), nil
}

// IsNew reports whether the frame's IV exceeds every tracked IV.
// Every IV is new while nothing has been tracked.
func (e *Engine) IsNew(frame *domain.Frame) (bool, error) {
	iv, err := frame.IV()
	if err != nil {
		return false, fmt.Errorf("is new: %w", err)
	}
	if len(e.records) == 0 {
		return true, nil
	}
	return iv > e.maxIV, nil
}

// Lookup returns the record for the frame's IV, if any.
func (e *Engine) Lookup(frame *domain.Frame) (Record, bool, error) {
	return e.lookup(frame)
}

func (e *Engine) lookup(frame *domain.Frame) (Record, bool, error) {
	iv, err := frame.IV()
	if err != nil {
		return Record{}, false, fmt.Errorf("lookup: %w", err)
	}
	rec, ok := e.records[iv]
	return rec, ok, nil
}

// Reset drops every record. Call it when switching target or channel.
func (e *Engine) Reset() {
	e.records = make(map[uint64]Record)
	e.maxIV = 0
}

// Len returns the number of tracked IVs.
func (e *Engine) Len() int {
	return len(e.records)
}
