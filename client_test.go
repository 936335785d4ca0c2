package main

import (
	"fmt"
	"testing"
	"time"

	"udptime/pkg/packet"
	"udptime/pkg/probe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type recvResult struct {
	reply probe.Reply
	ts    packet.Timestamp
	from  unix.Sockaddr // peer when nil
	err   error
}

type fakeLink struct {
	sent    []probe.Request
	to      []unix.Sockaddr
	armed   bool
	inbox   []recvResult
	events  []string
	clock   packet.Timestamp
	sendErr error
}

func (f *fakeLink) exchange() *exchange {
	return &exchange{
		server: peer,
		send: func(r *probe.Request, to unix.Sockaddr) error {
			f.events = append(f.events, "send")
			if f.sendErr != nil {
				return f.sendErr
			}
			f.sent = append(f.sent, *r)
			f.to = append(f.to, to)
			return nil
		},
		recv: func() (probe.Reply, packet.Timestamp, unix.Sockaddr, error) {
			f.events = append(f.events, "recv")
			if len(f.inbox) == 0 {
				return probe.Reply{}, 0, nil, fmt.Errorf("recvmsg: %w", packet.ErrTimeout)
			}
			r := f.inbox[0]
			f.inbox = f.inbox[1:]
			if r.from == nil {
				r.from = peer
			}
			return r.reply, r.ts, r.from, r.err
		},
		now: func() packet.Timestamp {
			f.clock += packet.Timestamp(time.Millisecond)
			return f.clock
		},
		armRecv: func() error {
			f.events = append(f.events, "arm")
			f.armed = true
			return nil
		},
	}
}

// answer replies to req as a server 2ms ahead, with 10ms transit each way
func answer(req probe.Request) recvResult {
	sent := req.SendTime()
	return recvResult{
		reply: req.Reply(sent + packet.Timestamp(12*time.Millisecond)),
		ts:    sent + packet.Timestamp(20*time.Millisecond),
	}
}

func TestExchangeSendsThenReceives(t *testing.T) {
	f := &fakeLink{clock: t0}
	x := f.exchange()

	// queue replies as if they had been waiting in the socket buffer
	x.send = func(next func(*probe.Request, unix.Sockaddr) error) func(*probe.Request, unix.Sockaddr) error {
		return func(r *probe.Request, to unix.Sockaddr) error {
			f.inbox = append(f.inbox, answer(*r))
			return next(r, to)
		}
	}(x.send)

	tbl, err := x.run(3)
	require.NoError(t, err)

	assert.Equal(t, []string{"send", "send", "send", "arm", "recv", "recv", "recv"}, f.events)
	for i, r := range f.sent {
		assert.Equal(t, uint32(i+1), r.Seq)
		assert.Equal(t, probe.Version, r.Version)
	}
	assert.Less(t, f.sent[0].SendTime(), f.sent[2].SendTime())
	assert.Equal(t, []unix.Sockaddr{peer, peer, peer}, f.to)

	for seq, s := range tbl.All() {
		assert.True(t, s.Received, "seq %d", seq)
		assert.InDelta(t, 0.020, s.Delay, 1e-9)
		assert.InDelta(t, 0.002, s.Offset, 1e-9)
	}
}

func TestExchangeStopsAtTimeout(t *testing.T) {
	f := &fakeLink{clock: t0}
	x := f.exchange()

	// only the second reply arrives
	x.send = func(next func(*probe.Request, unix.Sockaddr) error) func(*probe.Request, unix.Sockaddr) error {
		return func(r *probe.Request, to unix.Sockaddr) error {
			if r.Seq == 2 {
				f.inbox = append(f.inbox, answer(*r))
			}
			return next(r, to)
		}
	}(x.send)

	tbl, err := x.run(4)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Received())
	s, _ := tbl.Get(2)
	assert.True(t, s.Received)
	// one successful read, then the timeout
	assert.Equal(t, 2, countEvents(f.events, "recv"))
}

func TestExchangeIgnoresBadReplies(t *testing.T) {
	f := &fakeLink{clock: t0}
	x := f.exchange()

	good := answer(probe.NewRequest(1, t0))
	outOfRange := answer(probe.NewRequest(9, t0))
	zero := answer(probe.NewRequest(0, t0))
	f.inbox = []recvResult{
		{err: fmt.Errorf("%w: 37 bytes", packet.ErrMalformed)},
		outOfRange,
		zero,
		good,
		good,
	}

	tbl, err := x.run(2)
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Received())
	s, _ := tbl.Get(1)
	assert.True(t, s.Received)
	s, _ = tbl.Get(2)
	assert.False(t, s.Received)
	// the duplicate counts towards the n accepted replies, ending the phase without a timeout
	assert.Empty(t, f.inbox)
	assert.Equal(t, 5, countEvents(f.events, "recv"))
}

func TestExchangeIgnoresOtherSenders(t *testing.T) {
	f := &fakeLink{clock: t0}
	x := f.exchange()

	stray := answer(probe.NewRequest(1, t0))
	stray.from = peer2
	strayMalformed := recvResult{from: peer2, err: fmt.Errorf("%w: 3 bytes", packet.ErrMalformed)}
	f.inbox = []recvResult{stray, strayMalformed}

	tbl, err := x.run(1)
	require.NoError(t, err)
	assert.Zero(t, tbl.Received())
	// both stray datagrams, then the timeout
	assert.Equal(t, 3, countEvents(f.events, "recv"))
}

func TestExchangeStopsOnTransportError(t *testing.T) {
	f := &fakeLink{clock: t0}
	x := f.exchange()
	f.inbox = []recvResult{{err: fmt.Errorf("recvmsg: %w", unix.ECONNREFUSED)}, answer(probe.NewRequest(1, t0))}

	tbl, err := x.run(1)
	require.NoError(t, err)
	assert.Zero(t, tbl.Received())
	assert.Len(t, f.inbox, 1)
}

func TestExchangeSendErrorIsFatal(t *testing.T) {
	f := &fakeLink{clock: t0, sendErr: unix.ENETUNREACH}
	_, err := f.exchange().run(3)
	assert.ErrorIs(t, err, unix.ENETUNREACH)
	assert.False(t, f.armed)
}

func TestExchangeZeroProbes(t *testing.T) {
	f := &fakeLink{clock: t0}
	tbl, err := f.exchange().run(0)
	require.NoError(t, err)
	assert.Zero(t, tbl.Len())
	assert.Empty(t, f.events)
}

func countEvents(events []string, name string) int {
	n := 0
	for _, e := range events {
		if e == name {
			n++
		}
	}
	return n
}
