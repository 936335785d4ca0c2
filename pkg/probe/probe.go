// Package probe defines the two datagrams exchanged by client and server.
package probe

import (
	"fmt"

	"udptime/pkg/packet"
)

const (
	Version uint16 = 7

	RequestSize = 22
	ReplySize   = 38
)

// Request is sent by the client; sequence numbers start at 1.
type Request struct {
	Seq      uint32
	Version  uint16
	SendSec  uint64
	SendNsec uint64
}

// Reply echoes a Request and adds the server receive time.
type Reply struct {
	Seq      uint32
	Version  uint16
	SendSec  uint64
	SendNsec uint64
	RecvSec  uint64
	RecvNsec uint64
}

func NewRequest(seq uint32, sent packet.Timestamp) Request {
	sec, nsec := sent.Parts()
	return Request{
		Seq:      seq,
		Version:  Version,
		SendSec:  sec,
		SendNsec: nsec,
	}
}

func (r *Request) SendTime() packet.Timestamp {
	return packet.FromParts(r.SendSec, r.SendNsec)
}

func (r *Request) Validate() error {
	if err := checkVersion(r.Version); err != nil {
		return err
	}
	return checkTime("send", r.SendSec, r.SendNsec)
}

// Reply builds the answer to r, leaving the echoed fields untouched.
func (r *Request) Reply(recv packet.Timestamp) Reply {
	sec, nsec := recv.Parts()
	return Reply{
		Seq:      r.Seq,
		Version:  r.Version,
		SendSec:  r.SendSec,
		SendNsec: r.SendNsec,
		RecvSec:  sec,
		RecvNsec: nsec,
	}
}

func (r *Reply) SendTime() packet.Timestamp {
	return packet.FromParts(r.SendSec, r.SendNsec)
}

func (r *Reply) RecvTime() packet.Timestamp {
	return packet.FromParts(r.RecvSec, r.RecvNsec)
}

func (r *Reply) Validate() error {
	if err := checkVersion(r.Version); err != nil {
		return err
	}
	if err := checkTime("send", r.SendSec, r.SendNsec); err != nil {
		return err
	}
	return checkTime("receive", r.RecvSec, r.RecvNsec)
}

func checkVersion(v uint16) error {
	if v != Version {
		return fmt.Errorf("unsupported version %d", v)
	}
	return nil
}

func checkTime(name string, sec, nsec uint64) error {
	if !packet.ValidParts(sec, nsec) {
		return fmt.Errorf("%s time %d.%d out of range", name, sec, nsec)
	}
	return nil
}

func EncodeRequest(r Request) ([]byte, error) {
	return packet.Encode(make([]byte, 0, RequestSize), &r)
}

func DecodeRequest(buf []byte) (Request, error) {
	return packet.Decode[Request](buf)
}

func EncodeReply(r Reply) ([]byte, error) {
	return packet.Encode(make([]byte, 0, ReplySize), &r)
}

func DecodeReply(buf []byte) (Reply, error) {
	return packet.Decode[Reply](buf)
}
