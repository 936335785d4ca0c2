package probe_test

import (
	"encoding/binary"
	"testing"

	"udptime/pkg/packet"
	"udptime/pkg/probe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizes(t *testing.T) {
	assert.Equal(t, probe.RequestSize, packet.Size[probe.Request]())
	assert.Equal(t, probe.ReplySize, packet.Size[probe.Reply]())
}

func TestRequestLayout(t *testing.T) {
	buf, err := probe.EncodeRequest(probe.Request{Seq: 0x01020304, Version: probe.Version, SendSec: 5, SendNsec: 6})
	require.NoError(t, err)
	require.Len(t, buf, probe.RequestSize)

	assert.Equal(t, []byte{1, 2, 3, 4}, buf[0:4])
	assert.Equal(t, uint16(7), binary.BigEndian.Uint16(buf[4:6]))
	assert.Equal(t, uint64(5), binary.BigEndian.Uint64(buf[6:14]))
	assert.Equal(t, uint64(6), binary.BigEndian.Uint64(buf[14:22]))
}

func TestReplyLayout(t *testing.T) {
	req := probe.NewRequest(9, packet.FromParts(100, 200))
	buf, err := probe.EncodeReply(req.Reply(packet.FromParts(300, 400)))
	require.NoError(t, err)
	require.Len(t, buf, probe.ReplySize)

	assert.Equal(t, uint32(9), binary.BigEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint16(7), binary.BigEndian.Uint16(buf[4:6]))
	assert.Equal(t, uint64(100), binary.BigEndian.Uint64(buf[6:14]))
	assert.Equal(t, uint64(200), binary.BigEndian.Uint64(buf[14:22]))
	assert.Equal(t, uint64(300), binary.BigEndian.Uint64(buf[22:30]))
	assert.Equal(t, uint64(400), binary.BigEndian.Uint64(buf[30:38]))
}

func TestDecodeMalformed(t *testing.T) {
	good, err := probe.EncodeRequest(probe.NewRequest(1, packet.Now()))
	require.NoError(t, err)

	_, err = probe.DecodeRequest(good[:len(good)-1])
	assert.ErrorIs(t, err, packet.ErrMalformed)

	_, err = probe.DecodeRequest(append(good, 0))
	assert.ErrorIs(t, err, packet.ErrMalformed)

	_, err = probe.DecodeReply(good)
	assert.ErrorIs(t, err, packet.ErrMalformed)

	bad := append([]byte(nil), good...)
	binary.BigEndian.PutUint16(bad[4:6], 8)
	_, err = probe.DecodeRequest(bad)
	assert.ErrorIs(t, err, packet.ErrMalformed)
}

func TestDecodeTimeOutOfRange(t *testing.T) {
	for _, tc := range []struct {
		sec, nsec uint64
	}{
		{9223372036, 0},
		{1 << 63, 0},
		{0xffffffffffffffff, 0},
		{1700000000, 1000000000},
	} {
		req := probe.Request{Seq: 1, Version: probe.Version, SendSec: tc.sec, SendNsec: tc.nsec}
		buf, err := probe.EncodeRequest(req)
		require.NoError(t, err)
		_, err = probe.DecodeRequest(buf)
		assert.ErrorIs(t, err, packet.ErrMalformed, "%d.%d", tc.sec, tc.nsec)

		base := probe.NewRequest(1, packet.FromParts(1700000000, 0))
		reply := base.Reply(packet.FromParts(1700000000, 0))
		reply.RecvSec, reply.RecvNsec = tc.sec, tc.nsec
		buf, err = probe.EncodeReply(reply)
		require.NoError(t, err)
		_, err = probe.DecodeReply(buf)
		assert.ErrorIs(t, err, packet.ErrMalformed, "%d.%d", tc.sec, tc.nsec)
	}

	// last representable second
	req := probe.Request{Seq: 1, Version: probe.Version, SendSec: 9223372035, SendNsec: 999999999}
	buf, err := probe.EncodeRequest(req)
	require.NoError(t, err)
	out, err := probe.DecodeRequest(buf)
	require.NoError(t, err)
	assert.Greater(t, out.SendTime(), packet.FromParts(1700000000, 0))
}

func TestReplyEchoesRequest(t *testing.T) {
	sent := packet.FromParts(1700000000, 123456789)
	req := probe.NewRequest(42, sent)
	reply := req.Reply(packet.FromParts(1700000001, 5))

	assert.Equal(t, req.Seq, reply.Seq)
	assert.Equal(t, req.Version, reply.Version)
	assert.Equal(t, sent, reply.SendTime())
	assert.Equal(t, packet.FromParts(1700000001, 5), reply.RecvTime())
}

func Fuzz_RequestRoundTrip(f *testing.F) {
	f.Add(uint32(1), uint64(1700000000), uint64(999999999))
	f.Add(uint32(0xffffffff), uint64(0), uint64(0))
	f.Fuzz(func(t *testing.T, seq uint32, sec, nsec uint64) {
		in := probe.Request{Seq: seq, Version: probe.Version, SendSec: sec, SendNsec: nsec}
		buf, err := probe.EncodeRequest(in)
		require.NoError(t, err)
		out, err := probe.DecodeRequest(buf)
		if !packet.ValidParts(sec, nsec) {
			assert.ErrorIs(t, err, packet.ErrMalformed)
			return
		}
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}

func Fuzz_ReplyRoundTrip(f *testing.F) {
	f.Add(uint32(3), uint64(1), uint64(2), uint64(3), uint64(4))
	f.Fuzz(func(t *testing.T, seq uint32, cs, cn, ss, sn uint64) {
		in := probe.Reply{Seq: seq, Version: probe.Version, SendSec: cs, SendNsec: cn, RecvSec: ss, RecvNsec: sn}
		buf, err := probe.EncodeReply(in)
		require.NoError(t, err)
		out, err := probe.DecodeReply(buf)
		if !packet.ValidParts(cs, cn) || !packet.ValidParts(ss, sn) {
			assert.ErrorIs(t, err, packet.ErrMalformed)
			return
		}
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}
