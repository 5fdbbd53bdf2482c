// Command aisdecode decodes AIS sentences offline and prints one JSON
// object per complete message. It reads the given file, or stdin.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/madpsy/aisguard/decoders"
	"github.com/madpsy/aisguard/nmea"
)

const sourceID = "aisdecode"

// maxLine bounds one input line; longer lines are counted as failures.
const maxLine = 64 * 1024

// Decoded is one output record.
type Decoded struct {
	Line      int              `json:"line"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	IsVDO     bool             `json:"is_vdo"`
	Type      uint8            `json:"type"`
	MMSI      uint32           `json:"mmsi"`
	Message   decoders.Message `json:"message,omitempty"`
	Text      *decoders.Text   `json:"text,omitempty"`
}

// Summary counts what happened to the input.
type Summary struct {
	Lines     int
	Decoded   int
	Fragments int
	Ignored   int
	Failed    int
}

type decoder struct {
	strict bool
	out    *json.Encoder
	log    *slog.Logger
	reasm  *nmea.Reassembler
}

func newDecoder(w io.Writer, strict bool, log *slog.Logger) *decoder {
	d := &decoder{
		strict: strict,
		out:    json.NewEncoder(w),
		log:    log,
	}
	d.reasm = nmea.NewReassembler(0, func(_ string, reason nmea.DropReason, n int) {
		log.Debug("fragments dropped", "reason", reason, "fragments", n)
	})
	return d
}

// run decodes every line of r. Bad lines are logged and counted.
func (d *decoder) run(r io.Reader) (Summary, error) {
	var sum Summary
	lines := nmea.NewLineReader(r, maxLine)
	for {
		line, overlong, err := lines.Next()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, err
		}
		sum.Lines++
		if overlong {
			sum.Failed++
			d.log.Warn("overlong line", "line", sum.Lines, "limit", maxLine)
			continue
		}
		if err := d.line(sum.Lines, line, &sum); err != nil {
			return sum, err
		}
	}
}

func (d *decoder) line(n int, raw string, sum *Summary) error {
	rec := Decoded{Line: n}
	if ts, rest, ok := nmea.SplitLogLine(raw); ok {
		rec.Timestamp, raw = &ts, rest
	}
	s, err := nmea.Parse(raw)
	if errors.Is(err, nmea.ErrNotAIS) {
		sum.Ignored++
		return nil
	}
	if err == nil && s.HasChecksum && !s.ChecksumOK && d.strict {
		err = errors.New("checksum mismatch")
	}
	if err != nil {
		sum.Failed++
		d.log.Warn("bad sentence", "line", n, "err", err)
		return nil
	}
	c, ok := d.reasm.Add(sourceID, s)
	if !ok {
		sum.Fragments++
		return nil
	}
	rec.IsVDO = c.IsVDO

	if decoders.IsTextType(c.Payload) {
		t, err := decoders.DecodeText(c.Payload, c.FillBits)
		if err != nil {
			sum.Failed++
			d.log.Warn("text message decode failed", "line", n, "err", err)
			return nil
		}
		rec.Type, rec.MMSI, rec.Text = t.Type, t.MMSI, &t
	} else {
		msg, err := decoders.Decode(c.Payload, c.FillBits)
		if err != nil {
			sum.Failed++
			d.log.Warn("decode failed", "line", n, "err", err)
			return nil
		}
		rec.Type, rec.MMSI, rec.Message = msg.MessageType(), msg.SourceMMSI(), msg
	}
	sum.Decoded++
	return d.out.Encode(rec)
}

func main() {
	strict := flag.Bool("strict", false, "Reject sentences with a bad checksum")
	debug := flag.Bool("debug", false, "Enable debug output")
	flag.Parse()

	lvl := slog.LevelInfo
	if *debug {
		lvl = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	in := io.Reader(os.Stdin)
	if path := flag.Arg(0); path != "" {
		f, err := os.Open(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	out := bufio.NewWriter(os.Stdout)
	sum, err := newDecoder(out, *strict, log).run(in)
	out.Flush()
	log.Info("done", "lines", sum.Lines, "decoded", sum.Decoded,
		"fragments", sum.Fragments, "ignored", sum.Ignored, "failed", sum.Failed)
	if err != nil {
		log.Error("read failed", "err", err)
		os.Exit(1)
	}
}
