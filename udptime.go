package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"strconv"
	"time"

	"udptime/pkg/session"
)

var (
	ErrConfig = errors.New("invalid configuration")
)

func main() {
	if err := mainErr(); err != nil {
		log.Fatal(err)
	}
}

type Config struct {
	ep          string
	network     string
	probes      int
	timeout     int // seconds
	drop        int // percent
	kernelTs    bool
	sessionIdle time.Duration
	sessionKey  string
	summary     bool
	bins        int
	window      int
	db          string
	advertise   string
	discover    bool
}

func (c *Config) recvTimeout() time.Duration {
	return time.Duration(c.timeout) * time.Second
}

func (c *Config) validateClient() error {
	if c.probes < 0 {
		return fmt.Errorf("%w: -n must not be negative", ErrConfig)
	}
	if c.timeout < 0 {
		return fmt.Errorf("%w: -timeout must not be negative", ErrConfig)
	}
	if c.bins < 1 {
		return fmt.Errorf("%w: -bins must be positive", ErrConfig)
	}
	if c.window < 0 {
		return fmt.Errorf("%w: -window must not be negative", ErrConfig)
	}
	if !c.discover && c.ep == "" {
		return fmt.Errorf("%w: -ep is required unless -discover is set", ErrConfig)
	}
	return nil
}

func (c *Config) validateServer() error {
	_, p, err := net.SplitHostPort(c.ep)
	if err != nil {
		return fmt.Errorf("%w: -ep: %w", ErrConfig, err)
	}
	port, err := strconv.Atoi(p)
	if err != nil || port <= 1024 || port > 65535 {
		return fmt.Errorf("%w: port %q not in (1024, 65535]", ErrConfig, p)
	}
	if c.drop < 0 || c.drop > 100 {
		return fmt.Errorf("%w: -drop %d not in [0, 100]", ErrConfig, c.drop)
	}
	if c.sessionIdle < 0 || (c.sessionIdle > 0 && c.sessionIdle <= session.MinIdle) {
		return fmt.Errorf("%w: -session-idle %v must be 0 or above %v", ErrConfig, c.sessionIdle, session.MinIdle)
	}
	if _, err = sessionKeyFunc(c.sessionKey); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

func mainErr() error {
	conf := Config{
		network: "udp4",
	}
	var serve bool
	flag.BoolVar(&serve, "serve", false, "server mode")
	flag.StringVar(&conf.ep, "ep", ":12510", "endpoint to connect to or local endpoint in server mode")
	flag.IntVar(&conf.probes, "n", 10, "number of probes to send")
	flag.IntVar(&conf.timeout, "timeout", 1, "seconds to wait for each reply once all probes are sent (0 waits forever)")
	flag.IntVar(&conf.drop, "drop", 0, "percentage of probes the server drops on purpose")
	flag.BoolVar(&conf.kernelTs, "kernel-timestamps", false, "use kernel software RX timestamps as receive time")
	flag.DurationVar(&conf.sessionIdle, "session-idle", 0, "forget server sessions idle for this long (0 keeps them forever)")
	flag.StringVar(&conf.sessionKey, "session-key", "addr", "server session key: addr (ip:port) or host (ip only)")
	flag.BoolVar(&conf.summary, "summary", false, "print statistics after the per-probe results")
	flag.IntVar(&conf.bins, "bins", 10, "histogram bins in the summary")
	flag.IntVar(&conf.window, "window", 0, "summary statistics over the last this many received probes (0 for all)")
	flag.StringVar(&conf.db, "db", "", "sqlite database to record the run into")
	flag.StringVar(&conf.advertise, "advertise", "", "advertise the server via mDNS under this instance name")
	flag.BoolVar(&conf.discover, "discover", false, "find the server via mDNS instead of -ep")

	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if serve {
		if err := conf.validateServer(); err != nil {
			return err
		}
		return Server(conf)
	}

	if err := conf.validateClient(); err != nil {
		return err
	}
	return Client(conf)
}
