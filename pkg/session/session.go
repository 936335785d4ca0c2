// Package session tracks, per peer, the highest probe sequence number seen by the server.
package session

import (
	"fmt"
	"time"

	"udptime/pkg/packet"

	"github.com/ddirect/container/ttlmap"
)

// StaleAfter is the session age after which the sequence counter restarts,
// whether or not the peer has been sending in the meantime.
const StaleAfter = 120 * time.Second

// MinIdle is the eviction resolution; an idle time must exceed it.
const MinIdle = 10 * time.Millisecond

type Session struct {
	MaxSeq uint32
	Start  packet.Timestamp // creation or last reset
}

// Event reports what Observe did to a session.
type Event uint8

const (
	Created Event = 1 << iota
	OutOfOrder
	Reset
)

func (e Event) Has(x Event) bool {
	return e&x != 0
}

// Table is not safe for concurrent use: the server loop is its only user.
type Table struct {
	getOrCreate func(string) (*Session, bool)
	get         func(string) (Session, bool)
	expired     func() []string
}

// New returns a table forgetting sessions that have seen no traffic for idle.
// An idle of zero keeps every session for the life of the table. An evicted
// session is forgotten entirely: the next probe from that peer creates a new
// one, so neither an out-of-order nor a reset is reported for it.
func New(idle time.Duration) *Table {
	if idle == 0 {
		return permanent()
	}
	if idle <= MinIdle {
		panic(fmt.Errorf("session: idle %v not above %v", idle, MinIdle))
	}

	store, expired := ttlmap.New[string, Session](idle, SweepInterval(idle))

	return &Table{
		getOrCreate: func(key string) (*Session, bool) {
			e, found := store.GetOrCreate(key)
			return &e.Value, found
		},
		get: func(key string) (Session, bool) {
			if e := store.Get(key); e.Present() {
				return e.Value, true
			}
			return Session{}, false
		},
		expired: func() (keys []string) {
			for {
				select {
				case sessions := <-expired:
					for s := range sessions {
						keys = append(keys, s.Key())
					}
				default:
					return
				}
			}
		},
	}
}

func permanent() *Table {
	sessions := make(map[string]*Session)

	return &Table{
		getOrCreate: func(key string) (*Session, bool) {
			s, found := sessions[key]
			if !found {
				s = &Session{}
				sessions[key] = s
			}
			return s, found
		},
		get: func(key string) (Session, bool) {
			if s, found := sessions[key]; found {
				return *s, true
			}
			return Session{}, false
		},
		expired: func() []string {
			return nil
		},
	}
}

// SweepInterval is how often eviction is checked for a given idle time.
func SweepInterval(idle time.Duration) time.Duration {
	return max(idle/60, MinIdle)
}

// Observe applies an inbound probe with sequence seq from key at time now.
// A sequence lower than the highest seen is flagged as OutOfOrder and leaves
// the highest unchanged; maxSeq is the highest seen before this probe. A
// session older than StaleAfter is then reset, independently of the
// ordering check.
func (t *Table) Observe(key string, seq uint32, now packet.Timestamp) (ev Event, maxSeq uint32) {
	s, found := t.getOrCreate(key)
	if !found {
		*s = Session{Start: now}
		ev |= Created
	}

	maxSeq = s.MaxSeq
	if seq < s.MaxSeq {
		ev |= OutOfOrder
	} else {
		s.MaxSeq = seq
	}

	if now.Sub(s.Start) > StaleAfter {
		s.MaxSeq = 0
		s.Start = now
		ev |= Reset
	}
	return ev, maxSeq
}

func (t *Table) Get(key string) (Session, bool) {
	return t.get(key)
}

// Expired drains the keys evicted since the previous call without blocking.
func (t *Table) Expired() []string {
	return t.expired()
}
