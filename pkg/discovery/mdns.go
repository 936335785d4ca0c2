// Package discovery advertises and finds time servers on the local network via mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/mdns"
)

const (
	Service = "_udptime._udp"
	Domain  = "local"
)

var (
	ErrNotFound = errors.New("no time server found")
)

// ServerInfo describes a discovered server.
type ServerInfo struct {
	Name string
	ID   string
	Host string
	Port int
}

func (s ServerInfo) Endpoint() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Advertise announces a server listening on port until the returned shutdown function is called.
func Advertise(instance string, port int, id uuid.UUID) (func() error, error) {
	ips, err := localIPs()
	if err != nil {
		return nil, fmt.Errorf("local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(instance, Service, "", "", port, ips, []string{"id=" + id.String()})
	if err != nil {
		return nil, fmt.Errorf("mdns.NewMDNSService: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("mdns.NewServer: %w", err)
	}

	log.Printf("advertising %s as %q on port %d", Service, instance, port)
	return server.Shutdown, nil
}

// Find returns the first server answering within timeout.
func Find(ctx context.Context, timeout time.Duration) (ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 8)
	found := make(chan ServerInfo, 1)
	drained := make(chan struct{})

	go func() {
		defer close(drained)
		for entry := range entries {
			if !strings.Contains(entry.Name, Service) || entry.AddrV4 == nil {
				continue
			}
			info := ServerInfo{
				Name: entry.Name,
				ID:   txtValue(entry.InfoFields, "id"),
				Host: entry.AddrV4.String(),
				Port: entry.Port,
			}
			select {
			case found <- info:
			default:
			}
		}
	}()

	params := mdns.DefaultParams(Service)
	params.Domain = Domain
	params.Timeout = timeout
	params.Entries = entries

	qerr := make(chan error, 1)
	go func() {
		qerr <- mdns.Query(params)
		close(entries)
	}()

	select {
	case info := <-found:
		log.Printf("discovered %s (id %s) at %s", info.Name, info.ID, info.Endpoint())
		return info, nil
	case err := <-qerr:
		<-drained
		select {
		case info := <-found:
			return info, nil
		default:
		}
		if err != nil {
			return ServerInfo{}, fmt.Errorf("mdns.Query: %w", err)
		}
		return ServerInfo{}, ErrNotFound
	case <-ctx.Done():
		return ServerInfo{}, ctx.Err()
	}
}

func txtValue(fields []string, key string) string {
	for _, f := range fields {
		if k, v, ok := strings.Cut(f, "="); ok && k == key {
			return v
		}
	}
	return ""
}

func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	return ips, nil
}
