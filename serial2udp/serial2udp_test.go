package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"reflect"
	"testing"
	"time"
)

// scripted returns its chunks one read at a time, then fails.
type scripted struct {
	chunks []string
	err    error
}

func (s *scripted) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, s.err
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	if c == "" {
		return 0, io.EOF
	}
	return copy(p, c), nil
}

func TestForwarderJoinsPartialLines(t *testing.T) {
	var a, b bytes.Buffer
	f := &forwarder{dests: []io.Writer{&a, &b}, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	src := &scripted{
		chunks: []string{"!AIVDM,1,1,,A,13`dVT", "", "@P1T1KSH05f=P3Q2mp0000,0*75\r\n", "\r\n", "!ABVDO,x\r\n"},
		err:    errors.New("device unplugged"),
	}
	err := f.run(context.Background(), src)
	if err == nil {
		t.Fatalf("read error not returned")
	}
	want := "!AIVDM,1,1,,A,13`dVT@P1T1KSH05f=P3Q2mp0000,0*75\r\n!ABVDO,x\r\n"
	if a.String() != want || b.String() != want {
		t.Errorf("forwarded %q / %q", a.String(), b.String())
	}
	if f.lines != 2 {
		t.Errorf("lines = %d, want 2", f.lines)
	}
}

func TestDialAllSendsUDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	dests, closeAll, err := dialAll(splitAndTrim(" "+pc.LocalAddr().String()+" ,, ", ","))
	if err != nil {
		t.Fatal(err)
	}
	defer closeAll()
	if len(dests) != 1 {
		t.Fatalf("dests = %d", len(dests))
	}
	f := &forwarder{dests: dests, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	f.forward([]byte("!AIVDM,test\n"))

	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "!AIVDM,test\n" {
		t.Errorf("received %q", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim("a:1, b:2 ,,", ",")
	if !reflect.DeepEqual(got, []string{"a:1", "b:2"}) {
		t.Errorf("got %q", got)
	}
	if _, _, err := dialAll([]string{"not an addr"}); err == nil {
		t.Errorf("bad address accepted")
	}
}
