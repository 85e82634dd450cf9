package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dbehnke/mercurygs/internal/protocol"
	"github.com/dbehnke/mercurygs/internal/simulator"
	"github.com/dbehnke/mercurygs/internal/transport"
)

const VERSION = "1.0.0"

type options struct {
	medium   string
	port     string
	baud     int
	listen   string
	remote   string
	periodic time.Duration
	channel  uint
	delay    time.Duration
	legacy   bool
	debug    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.medium, "medium", transport.MEDIUM_SERIAL, "Link medium: serial, udp or quic")
	flag.StringVar(&opts.port, "port", "/dev/ttyUSB1", "Serial port")
	flag.IntVar(&opts.baud, "baud", 9600, "Serial baud rate")
	flag.StringVar(&opts.listen, "listen", "127.0.0.1:5001", "UDP or QUIC listen address")
	flag.StringVar(&opts.remote, "remote", "", "UDP ground station address (learned from the first datagram if empty)")
	flag.DurationVar(&opts.periodic, "periodic", 0, "Interval of unsolicited telemetry, 0 disables")
	flag.UintVar(&opts.channel, "channel", simulator.DEFAULT_PERIODIC_CHANNEL, "Channel of unsolicited telemetry")
	flag.DurationVar(&opts.delay, "delay", 0, "Delay before each answer")
	flag.BoolVar(&opts.legacy, "legacy", false, "Fold the escape count into the length field")
	flag.BoolVar(&opts.debug, "debug", false, "Log every frame")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Mercury device simulator v%s\n", VERSION)
		return
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Mercury device simulator v%s starting (%s)", VERSION, opts.medium)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	if err := run(ctx, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Simulator error: %v", err)
	}
	log.Printf("Mercury device simulator stopped")
}

func run(ctx context.Context, opts options) error {
	switch opts.medium {
	case transport.MEDIUM_SERIAL:
		return serve(ctx, transport.NewSerial(transport.SerialConfig{
			Port:     opts.port,
			BaudRate: opts.baud,
		}), opts)

	case transport.MEDIUM_UDP:
		host, port, err := splitHostPort(opts.listen)
		if err != nil {
			return err
		}
		cfg := transport.UDPConfig{LocalAddress: host, LocalPort: port, Debug: opts.debug}
		if opts.remote != "" {
			if cfg.RemoteAddress, cfg.RemotePort, err = splitHostPort(opts.remote); err != nil {
				return err
			}
		}
		return serve(ctx, transport.NewUDP(cfg), opts)

	case transport.MEDIUM_QUIC:
		return serveQUIC(ctx, opts)
	}
	return transport.ValidateMedium(opts.medium)
}

// serve opens t and answers requests on it until ctx is cancelled
func serve(ctx context.Context, t transport.Transport, opts options) error {
	if err := t.Open(); err != nil {
		return err
	}
	defer t.Close()

	device := simulator.New(t, simulator.Options{
		Codec:            protocol.Codec{LegacyLengthFold: opts.legacy},
		PeriodicChannel:  uint32(opts.channel),
		PeriodicInterval: opts.periodic,
		ResponseDelay:    opts.delay,
		Debug:            opts.debug,
	})
	err := device.Run(ctx)

	s := device.Stats()
	log.Printf("Served %d requests, %d responses, %d periodic, %d errors",
		s.Requests, s.Responses, s.Periodic, s.Errors)
	return err
}

// serveQUIC accepts ground stations one at a time with a self-signed
// certificate
func serveQUIC(ctx context.Context, opts options) error {
	host, _, err := net.SplitHostPort(opts.listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %s: %w", opts.listen, err)
	}
	hosts := []string{"localhost"}
	if host != "" {
		hosts = append(hosts, host)
	}
	tlsConf, err := transport.SelfSignedTLS(hosts...)
	if err != nil {
		return err
	}
	ln, err := transport.ListenQUIC(opts.listen, tlsConf)
	if err != nil {
		return err
	}
	defer ln.Close()
	log.Printf("Listening for QUIC links on %s", ln.Addr())

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("QUIC accept failed: %v", err)
			continue
		}
		if err := serve(ctx, conn, opts); err != nil && ctx.Err() == nil {
			log.Printf("QUIC link ended: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func splitHostPort(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %s: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %s: %w", address, err)
	}
	return host, port, nil
}
