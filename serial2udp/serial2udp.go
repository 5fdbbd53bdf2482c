// Command serial2udp forwards the NMEA lines of a serial AIS receiver to
// one or more UDP destinations, typically aisguard UDP sources on other
// hosts.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.bug.st/serial"
)

// forwarder copies complete lines from a reader to every destination.
type forwarder struct {
	dests []io.Writer
	log   *slog.Logger
	lines int
}

// run forwards until r fails or ctx is done. A (0, EOF) read from a serial
// port with a read timeout just means no data yet.
func (f *forwarder) run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReader(r)
	var partial []byte
	for ctx.Err() == nil {
		chunk, err := br.ReadSlice('\n')
		partial = append(partial, chunk...)
		switch {
		case err == nil:
			f.forward(partial)
			partial = partial[:0]
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			time.Sleep(10 * time.Millisecond)
		default:
			return fmt.Errorf("serial read: %w", err)
		}
	}
	return nil
}

func (f *forwarder) forward(frame []byte) {
	if len(strings.TrimSpace(string(frame))) == 0 {
		return
	}
	f.lines++
	f.log.Debug("forwarding", "frame", string(frame))
	for _, d := range f.dests {
		if _, err := d.Write(frame); err != nil {
			f.log.Warn("udp write failed", "err", err)
		}
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func dialAll(addrs []string) ([]io.Writer, func(), error) {
	var conns []*net.UDPConn
	closeAll := func() {
		for _, c := range conns {
			c.Close()
		}
	}
	dests := make([]io.Writer, 0, len(addrs))
	for _, d := range addrs {
		addr, err := net.ResolveUDPAddr("udp", d)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid UDP addr %q: %w", d, err)
		}
		c, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		conns = append(conns, c)
		dests = append(dests, c)
	}
	return dests, closeAll, nil
}

func main() {
	serialPort := flag.String("serial-port", "/dev/ttyUSB0", "Serial port device")
	baud := flag.Int("baud", 38400, "Baud rate")
	udpAddrs := flag.String("udp", "127.0.0.1:8101", "Comma-separated UDP destinations")
	debug := flag.Bool("debug", false, "Enable debug logging of forwarded data")
	flag.Parse()

	lvl := slog.LevelInfo
	if *debug {
		lvl = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	port, err := serial.Open(*serialPort, &serial.Mode{BaudRate: *baud})
	if err != nil {
		log.Error("open serial port", "port", *serialPort, "err", err)
		os.Exit(1)
	}
	defer port.Close()
	if err := port.SetReadTimeout(time.Second); err != nil {
		log.Error("set read timeout", "err", err)
		os.Exit(1)
	}

	dests, closeAll, err := dialAll(splitAndTrim(*udpAddrs, ","))
	if err != nil {
		log.Error("udp destinations", "err", err)
		os.Exit(1)
	}
	defer closeAll()
	log.Info("forwarding", "port", *serialPort, "baud", *baud, "udp", *udpAddrs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	f := &forwarder{dests: dests, log: log}
	if err := f.run(ctx, port); err != nil {
		log.Error("forwarding stopped", "lines", f.lines, "err", err)
		os.Exit(1)
	}
	log.Info("forwarding stopped", "lines", f.lines)
}
