package main

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"time"

	"udptime/pkg/discovery"
	"udptime/pkg/packet"
	"udptime/pkg/probe"
	"udptime/pkg/session"
	"udptime/pkg/socket"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

var (
	errReceiverStopped = errors.New("receiver stopped")
)

type server struct {
	sessions *session.Table
	port     int
	drop     func() bool
	key      func(unix.Sockaddr) string
	send     func(*probe.Reply, unix.Sockaddr) error
	logf     func(string, ...any)
}

// lossFunc draws uniformly from [0, 100] and drops when the draw does not exceed pct.
func lossFunc(pct int, intN func(int) int) func() bool {
	if pct == 0 {
		return func() bool { return false }
	}
	return func() bool {
		return intN(101) <= pct
	}
}

func sessionKeyFunc(name string) (func(unix.Sockaddr) string, error) {
	switch name {
	case "addr":
		return socket.AddrToString, nil
	case "host":
		return socket.Host, nil
	default:
		return nil, fmt.Errorf("unknown session key %q", name)
	}
}

func describe(sa unix.Sockaddr) string {
	if sa == nil {
		return "unknown peer"
	}
	return socket.AddrToString(sa)
}

// handle processes one request received at now. The same now is used for
// the staleness check and as the server receive time in the reply.
func (s *server) handle(req *probe.Request, now packet.Timestamp, from unix.Sockaddr) error {
	if s.drop() {
		return nil
	}

	key := s.key(from)
	ev, maxSeq := s.sessions.Observe(key, req.Seq, now)
	if ev.Has(session.Created) {
		s.logf("new session %s", key)
	}
	if ev.Has(session.OutOfOrder) {
		s.logf("%s: %d %d %d", socket.Host(from), s.port, req.Seq, maxSeq)
	}
	if ev.Has(session.Reset) {
		s.logf("session %s reset", key)
	}

	reply := req.Reply(now)
	if err := s.send(&reply, from); err != nil {
		return fmt.Errorf("reply to %s: %w", key, err)
	}
	return nil
}

// serve runs until a transport error occurs. A nil sweep disables eviction.
func (s *server) serve(recvCh <-chan packet.RecvPacket[probe.Request], sweep <-chan time.Time) error {
	for {
		select {
		case <-sweep:
			for _, key := range s.sessions.Expired() {
				s.logf("session %s expired", key)
			}

		case recvPkt, ok := <-recvCh:
			if !ok {
				return errReceiverStopped
			}
			if recvPkt.Error != nil {
				if errors.Is(recvPkt.Error, packet.ErrMalformed) {
					s.logf("discarding request from %s: %v", describe(recvPkt.From), recvPkt.Error)
					continue
				}
				return recvPkt.Error
			}

			if err := s.handle(&recvPkt.Data, recvPkt.Ts, recvPkt.From); err != nil {
				return err
			}
		}
	}
}

func Server(conf Config) error {
	fd, localAddr, err := socket.Listen(conf.network, conf.ep)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if conf.kernelTs {
		if err = packet.EnableTimestamping(fd); err != nil {
			return err
		}
	}

	log.Printf("listening on %s (drop %d%%)", socket.AddrToString(localAddr), conf.drop)

	if conf.advertise != "" {
		shutdown, err := discovery.Advertise(conf.advertise, socket.Port(localAddr), uuid.New())
		if err != nil {
			return err
		}
		defer shutdown()
	}

	key, err := sessionKeyFunc(conf.sessionKey)
	if err != nil {
		return err
	}

	s := server{
		sessions: session.New(conf.sessionIdle),
		port:     socket.Port(localAddr),
		drop:     lossFunc(conf.drop, rand.IntN),
		key:      key,
		send:     packet.NewSender[probe.Reply](fd),
		logf:     log.Printf,
	}

	var sweep <-chan time.Time
	if conf.sessionIdle > 0 {
		ticker := time.NewTicker(session.SweepInterval(conf.sessionIdle))
		defer ticker.Stop()
		sweep = ticker.C
	}

	return s.serve(packet.NewAsyncReceiver[probe.Request](fd, 16, conf.kernelTs), sweep)
}
