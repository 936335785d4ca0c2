package packet

import (
	"errors"
	"fmt"
	"math"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type (
	Timestamp int64 // unix time in nanoseconds - differences can be cast directly to time.Duration
)

var (
	ErrTimestampNotFound            = errors.New("no timestamp found in control data")
	ErrScmTimestampingNotEnoughData = errors.New("not enough data received for ScmTimestamping")
)

const (
	ctlBufSize = 256 // 64 bytes are enough for a single ScmTimestamping structure plus Cmsghdr (on x86_64)

	maxSec = uint64(math.MaxInt64 / int64(time.Second))
)

// Now reads the wall clock.
func Now() Timestamp {
	return Timestamp(time.Now().UnixNano())
}

// ValidParts reports whether a wire seconds + nanoseconds pair fits a Timestamp,
// i.e. nsec is below one second and the time is before the year 2262.
func ValidParts(sec, nsec uint64) bool {
	return sec < maxSec && nsec < uint64(time.Second)
}

// FromParts joins a seconds + nanoseconds pair as carried on the wire. The
// result is only meaningful when ValidParts(sec, nsec).
func FromParts(sec, nsec uint64) Timestamp {
	return Timestamp(int64(sec)*int64(time.Second) + int64(nsec))
}

// Parts splits t into the seconds + nanoseconds pair carried on the wire.
func (t Timestamp) Parts() (sec, nsec uint64) {
	s := int64(t) / int64(time.Second)
	return uint64(s), uint64(int64(t) - s*int64(time.Second))
}

func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t - u)
}

func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t))
}

// EnableTimestamping asks the kernel to attach a software receive timestamp to every datagram.
func EnableTimestamping(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING,
		unix.SOF_TIMESTAMPING_RX_SOFTWARE|
			unix.SOF_TIMESTAMPING_SOFTWARE,
	); err != nil {
		return fmt.Errorf("setsockopt: %w", err)
	}
	return nil
}

func decodeTimestamp(buf []byte) (Timestamp, error) {
	for len(buf) > 0 {
		hdr, data, remainder, err := unix.ParseOneSocketControlMessage(buf)
		if err != nil {
			return 0, fmt.Errorf("unix.ParseOneSocketControlMessage: %w", err)
		}

		switch hdr.Level {
		case unix.SOL_SOCKET:
			switch hdr.Type {
			case unix.SCM_TIMESTAMPING:
				if uintptr(len(data)) < unsafe.Sizeof(unix.ScmTimestamping{}) {
					return 0, ErrScmTimestampingNotEnoughData
				}
				scmTs := (*unix.ScmTimestamping)(unsafe.Pointer(unsafe.SliceData(data)))
				return Timestamp(scmTs.Ts[0].Nano()), nil
			}
		}

		buf = remainder
	}
	return 0, ErrTimestampNotFound
}
