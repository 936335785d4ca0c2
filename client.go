package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"udptime/pkg/discovery"
	"udptime/pkg/packet"
	"udptime/pkg/probe"
	"udptime/pkg/results"
	"udptime/pkg/socket"
	"udptime/pkg/store"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const (
	discoverTimeout = 3 * time.Second
	// kernel accounting for one queued reply datagram, far above its payload
	rcvbufPerReply = 1024
)

// exchange sends a burst of probes to server and then collects the replies.
type exchange struct {
	server  unix.Sockaddr
	send    func(*probe.Request, unix.Sockaddr) error
	recv    func() (probe.Reply, packet.Timestamp, unix.Sockaddr, error)
	now     func() packet.Timestamp
	armRecv func() error
}

// run sends probes 1..n back to back, then reads replies until n have been
// accepted or a read fails. A timeout ends the run with the outstanding
// probes left as dropped. Datagrams from anyone but the server are ignored.
func (x *exchange) run(n int) (*results.Table, error) {
	tbl := results.New(n)
	server := socket.AddrToString(x.server)

	for seq := 1; seq <= n; seq++ {
		req := probe.NewRequest(uint32(seq), x.now())
		if err := x.send(&req, x.server); err != nil {
			return nil, fmt.Errorf("probe %d: %w", seq, err)
		}
	}

	if n == 0 {
		return tbl, nil
	}

	if err := x.armRecv(); err != nil {
		return nil, err
	}

	for accepted := 0; accepted < n; {
		reply, ts, from, err := x.recv()
		if from != nil && socket.AddrToString(from) != server {
			log.Printf("ignoring datagram from %s", socket.AddrToString(from))
			continue
		}
		if err != nil {
			if errors.Is(err, packet.ErrMalformed) {
				log.Printf("discarding reply: %v", err)
				continue
			}
			if !errors.Is(err, packet.ErrTimeout) {
				log.Print(err)
			}
			break
		}

		if err = tbl.Record(reply.Seq, reply.SendTime(), reply.RecvTime(), ts); err != nil {
			log.Printf("ignoring reply: %v", err)
			continue
		}
		accepted++
	}
	return tbl, nil
}

func Client(conf Config) error {
	ep := conf.ep
	if conf.discover {
		info, err := discovery.Find(context.Background(), discoverTimeout)
		if err != nil {
			return fmt.Errorf("discover: %w", err)
		}
		ep = info.Endpoint()
	}

	fd, remoteAddr, err := socket.Open(conf.network, ep)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if conf.kernelTs {
		if err = packet.EnableTimestamping(fd); err != nil {
			return err
		}
	}

	// replies arriving during the send phase must wait in the socket buffer
	if err = socket.GrowRecvBuffer(fd, conf.probes*rcvbufPerReply); err != nil {
		log.Print(err)
	}

	x := exchange{
		server: remoteAddr,
		send:   packet.NewSender[probe.Request](fd),
		recv:   packet.NewReceiver[probe.Reply](fd, conf.kernelTs),
		now:    packet.Now,
		armRecv: func() error {
			return socket.SetRecvTimeout(fd, conf.recvTimeout())
		},
	}

	started := time.Now()
	tbl, err := x.run(conf.probes)
	if err != nil {
		return err
	}

	if err = Report(os.Stdout, tbl); err != nil {
		return err
	}

	if conf.summary {
		if err = Summarize(os.Stdout, tbl, conf.bins, conf.window); err != nil {
			return err
		}
	}

	if conf.db != "" {
		run := store.Run{
			ID:      uuid.New(),
			Server:  socket.AddrToString(remoteAddr),
			Started: started,
			Probes:  conf.probes,
			Timeout: conf.recvTimeout(),
		}
		if err = record(conf.db, run, tbl); err != nil {
			return err
		}
		log.Printf("run %s recorded in %s", run.ID, conf.db)
	}
	return nil
}

func record(path string, run store.Run, tbl *results.Table) error {
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Save(run, tbl.All())
}
