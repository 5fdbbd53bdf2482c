package sources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/madpsy/aisguard/ingest"
	"github.com/madpsy/aisguard/store"
	"github.com/madpsy/aisguard/vessel"
)

// maxLine bounds one buffered sentence; longer input is discarded.
const maxLine = 4096

var errReadTimeout = errors.New("sources: read timeout")

// errClosed reports an orderly close by the remote end of a stream.
var errClosed = errors.New("sources: connection closed by peer")

type readFunc func(ctx context.Context, s *vessel.Source, h *handle) error

// spawn starts the reader task for s and registers it.
func (m *Manager) spawn(s *vessel.Source, paused bool) {
	ctx, cancel := context.WithCancel(m.ctx)
	h := &handle{cancel: cancel, done: make(chan struct{})}
	h.paused.Store(paused)
	m.reg.put(s.ID, h)

	var run readFunc
	switch s.Transport {
	case vessel.TransportTCP:
		run = m.retrying(m.readTCP)
	case vessel.TransportUDP:
		run = m.retrying(m.readUDP)
	case vessel.TransportSerial:
		run = m.retrying(m.readSerial)
	case vessel.TransportFile:
		run = m.readFile
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(h.done)
		defer m.reg.remove(s.ID, h)
		m.log.Info("source reader started", "source", s.ID, "type", s.Transport)
		if err := run(ctx, s, h); err != nil && ctx.Err() == nil {
			m.recordError(s.ID, err)
		}
		m.log.Info("source reader stopped", "source", s.ID)
	}()
}

// retrying reopens a streaming transport after every failure until the
// reader is stopped.
func (m *Manager) retrying(open readFunc) readFunc {
	return func(ctx context.Context, s *vessel.Source, h *handle) error {
		for {
			err := open(ctx, s, h)
			if ctx.Err() != nil {
				return nil
			}
			m.recordError(s.ID, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(m.opts.RetryDelay):
			}
		}
	}
}

func (m *Manager) recordError(id string, err error) {
	m.log.Warn("source transport error", "source", id, "err", err)
	if _, uerr := m.store.UpdateSource(context.Background(), id, func(s *vessel.Source) error {
		s.LastError = err.Error()
		return nil
	}); uerr != nil && !errors.Is(uerr, store.ErrNotFound) {
		m.log.Debug("record source error", "source", id, "err", uerr)
	}
}

func (m *Manager) clearError(id string) {
	m.store.UpdateSource(context.Background(), id, func(s *vessel.Source) error {
		s.LastError = ""
		return nil
	})
}

// emit forwards one line unless the source is paused.
func (m *Manager) emit(ctx context.Context, s *vessel.Source, h *handle, line string) {
	if h.paused.Load() {
		return
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if _, err := m.router.Submit(ctx, ingest.RawSentence{
		SourceID:  s.ID,
		Transport: s.Transport,
		Line:      line,
		Arrival:   time.Now().UTC(),
	}); err != nil {
		m.log.Debug("line rejected", "source", s.ID, "err", err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, errReadTimeout) || errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout())
}

// pumpLines reads newline-terminated lines from r until ctx is done or r
// fails. Every read is bounded by the caller's deadline so a silent source
// never blocks a stop for longer than one read timeout.
func (m *Manager) pumpLines(ctx context.Context, s *vessel.Source, h *handle, r io.Reader, arm func() error) error {
	br := bufio.NewReaderSize(r, maxLine)
	var partial []byte
	for {
		if ctx.Err() != nil {
			return nil
		}
		if arm != nil {
			if err := arm(); err != nil {
				return err
			}
		}
		chunk, err := br.ReadSlice('\n')
		partial = append(partial, chunk...)
		switch {
		case err == nil:
			m.emit(ctx, s, h, string(partial))
			partial = partial[:0]
		case errors.Is(err, bufio.ErrBufferFull):
			if len(partial) > maxLine {
				partial = partial[:0]
			}
		case isTimeout(err):
		case errors.Is(err, io.EOF):
			if len(partial) > 0 {
				m.emit(ctx, s, h, string(partial))
			}
			return errClosed
		default:
			return err
		}
	}
}

func (m *Manager) readTCP(ctx context.Context, s *vessel.Source, h *handle) error {
	addr := net.JoinHostPort(s.Config.Host, strconv.Itoa(s.Config.Port))
	d := net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	m.clearError(s.ID)
	m.log.Info("tcp source connected", "source", s.ID, "addr", addr)

	return m.pumpLines(ctx, s, h, conn, func() error {
		return conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))
	})
}

func (m *Manager) readUDP(ctx context.Context, s *vessel.Source, h *handle) error {
	addr := net.JoinHostPort(s.Config.Host, strconv.Itoa(s.Config.Port))
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer pc.Close()
	m.clearError(s.ID)
	m.log.Info("udp source listening", "source", s.ID, "addr", pc.LocalAddr().String())

	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := pc.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout)); err != nil {
			return err
		}
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("udp read: %w", err)
		}
		for _, line := range strings.Split(string(buf[:n]), "\n") {
			m.emit(ctx, s, h, line)
		}
	}
}

// serialPort adapts a serial port to the line pump: a read that times out
// returns zero bytes without an error, which is reported as errReadTimeout.
type serialPort struct{ p serial.Port }

func (sp serialPort) Read(b []byte) (int, error) {
	n, err := sp.p.Read(b)
	if n == 0 && err == nil {
		return 0, errReadTimeout
	}
	return n, err
}

func (m *Manager) readSerial(ctx context.Context, s *vessel.Source, h *handle) error {
	port, err := serial.Open(s.Config.SerialPort, &serial.Mode{BaudRate: s.Config.BaudRate})
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Config.SerialPort, err)
	}
	defer port.Close()
	if err := port.SetReadTimeout(m.opts.ReadTimeout); err != nil {
		return fmt.Errorf("set read timeout on %s: %w", s.Config.SerialPort, err)
	}
	m.clearError(s.ID)
	m.log.Info("serial source open", "source", s.ID, "port", s.Config.SerialPort, "baud", s.Config.BaudRate)

	err = m.pumpLines(ctx, s, h, serialPort{port}, nil)
	if errors.Is(err, errClosed) {
		return fmt.Errorf("serial port %s closed", s.Config.SerialPort)
	}
	return err
}

// readFile ingests a file once as a batch. Pause does not apply to it.
func (m *Manager) readFile(ctx context.Context, s *vessel.Source, _ *handle) error {
	f, err := os.Open(s.Config.FilePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Config.FilePath, err)
	}
	defer f.Close()
	counter := &countingReader{r: f}
	lines, release, err := openCapture(counter)
	if err != nil {
		m.finishFile(context.Background(), s.ID, counter.n, err)
		return err
	}
	defer release()
	_, err = m.router.RunBatch(ctx, s.ID, lines)
	m.finishFile(context.Background(), s.ID, counter.n, err)
	return err
}
