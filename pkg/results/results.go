// Package results holds the client side outcome of a burst, one slot per sequence number.
package results

import (
	"errors"
	"fmt"
	"iter"

	"udptime/pkg/packet"
)

var (
	ErrOutOfRange = errors.New("sequence number out of range")
)

type Slot struct {
	Received bool
	Delay    float64 // seconds
	Offset   float64 // seconds, positive when the server clock is ahead
}

type Table struct {
	slots []Slot // index 0 unused
}

func New(n int) *Table {
	return &Table{slots: make([]Slot, n+1)}
}

// Len is the number of probes, i.e. the highest valid sequence number.
func (t *Table) Len() int {
	return len(t.slots) - 1
}

// Record stores the estimate for seq. A later reply for the same seq overwrites an earlier one.
func (t *Table) Record(seq uint32, sent, serverRecv, recv packet.Timestamp) error {
	if seq < 1 || uint64(seq) > uint64(t.Len()) {
		return fmt.Errorf("%w: %d not in 1..%d", ErrOutOfRange, seq, t.Len())
	}
	delay, offset := Estimate(sent, serverRecv, recv)
	t.slots[seq] = Slot{
		Received: true,
		Delay:    delay,
		Offset:   offset,
	}
	return nil
}

func (t *Table) Get(seq uint32) (Slot, bool) {
	if seq < 1 || uint64(seq) > uint64(t.Len()) {
		return Slot{}, false
	}
	return t.slots[seq], true
}

// All yields every slot in ascending sequence order.
func (t *Table) All() iter.Seq2[uint32, Slot] {
	return func(yield func(uint32, Slot) bool) {
		for i := 1; i < len(t.slots); i++ {
			if !yield(uint32(i), t.slots[i]) {
				return
			}
		}
	}
}

func (t *Table) Received() int {
	n := 0
	for _, s := range t.slots[1:] {
		if s.Received {
			n++
		}
	}
	return n
}

// Estimate derives round trip delay and clock offset from the client send
// time, the server receive time and the client receive time, assuming a
// symmetric path. Server processing time is not subtracted from the delay.
func Estimate(sent, serverRecv, recv packet.Timestamp) (delay, offset float64) {
	delay = recv.Sub(sent).Seconds()
	offset = (serverRecv.Sub(sent).Seconds() + serverRecv.Sub(recv).Seconds()) / 2
	return
}
