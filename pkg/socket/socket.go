package socket

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

func Addr(x *net.UDPAddr) unix.Sockaddr {
	res := &unix.SockaddrInet4{
		Port: x.Port,
	}
	copy(res.Addr[:], x.IP.To4())
	return res
}

func AddrToString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("%s:%d", ip, v.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip, v.Port)
	case *unix.SockaddrUnix:
		return v.Name
	default:
		panic(fmt.Errorf("unsupported address type %T", v))
	}
}

// Host is the address without its port.
func Host(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(v.Addr[:]).String()
	case *unix.SockaddrInet6:
		return net.IP(v.Addr[:]).String()
	default:
		return AddrToString(sa)
	}
}

func Port(sa unix.Sockaddr) int {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return v.Port
	case *unix.SockaddrInet6:
		return v.Port
	default:
		return 0
	}
}

// Open returns an unbound, unconnected UDP socket together with the resolved ep.
// The kernel binds the socket on the first send.
func Open(network, ep string) (int, unix.Sockaddr, error) {
	addr, err := net.ResolveUDPAddr(network, ep)
	if err != nil {
		return -1, nil, fmt.Errorf("resolve addr: %w", err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return -1, nil, fmt.Errorf("socket: %w", err)
	}
	return fd, Addr(addr), nil
}

// Listen returns a UDP socket bound to ep; an empty host binds all interfaces.
func Listen(network, ep string) (int, unix.Sockaddr, error) {
	fd, localAddr, err := Open(network, ep)
	if err != nil {
		return -1, nil, err
	}

	if err = unix.Bind(fd, localAddr); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("bind: %w", err)
	}

	if localAddr, err = unix.Getsockname(fd); err != nil {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("getsockname: %w", err)
	}
	return fd, localAddr, nil
}

// SetRecvTimeout bounds every blocking read on fd; zero blocks forever.
func SetRecvTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("setsockopt SO_RCVTIMEO: %w", err)
	}
	return nil
}

// GrowRecvBuffer raises SO_RCVBUF to at least size bytes. The kernel caps the value at net.core.rmem_max.
func GrowRecvBuffer(fd, size int) error {
	cur, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	if err != nil {
		return fmt.Errorf("getsockopt SO_RCVBUF: %w", err)
	}
	if cur >= size {
		return nil
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size); err != nil {
		return fmt.Errorf("setsockopt SO_RCVBUF: %w", err)
	}
	return nil
}
