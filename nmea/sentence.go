// Package nmea frames AIS VDM/VDO sentences and reassembles multi-fragment
// messages into a single armored payload.
package nmea

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotAIS is returned for lines that are not VDM/VDO sentences. Callers
	// ignore these lines rather than counting them as failures.
	ErrNotAIS = errors.New("nmea: not an AIS VDM/VDO sentence")
	// ErrMalformed is returned when a VDM/VDO sentence cannot be framed.
	ErrMalformed = errors.New("nmea: malformed sentence")
)

// vdoWindow is how far into the line the VDO/VDM designator may appear;
// talker ids vary by receiver vendor (!AIVDO, !ABVDO, $ABVDO, ...).
const vdoWindow = 10

// Sentence is one framed VDM/VDO line.
type Sentence struct {
	Raw         string
	IsVDO       bool
	Total       int
	Index       int
	SeqID       string
	Channel     string
	Payload     string
	FillBits    int
	HasChecksum bool
	ChecksumOK  bool
}

// IsCandidate reports whether a line may hold a sentence at all. Lines that
// do not start with '!' or '$' are ignored without error.
func IsCandidate(line string) bool {
	return len(line) > 0 && (line[0] == '!' || line[0] == '$')
}

// ClassifyVDO reports whether line is an own-station (VDO) report and
// whether it is an AIS sentence in the first place.
func ClassifyVDO(line string) (isVDO, isAIS bool) {
	head := line
	if len(head) > vdoWindow {
		head = head[:vdoWindow]
	}
	switch {
	case strings.Contains(head, "VDO"):
		return true, true
	case strings.Contains(head, "VDM"):
		return false, true
	}
	return false, false
}

// Parse frames a single line. Checksum mismatches are reported through
// ChecksumOK and are not an error.
func Parse(line string) (Sentence, error) {
	line = strings.TrimSpace(line)
	if !IsCandidate(line) {
		return Sentence{}, ErrNotAIS
	}
	isVDO, isAIS := ClassifyVDO(line)
	if !isAIS {
		return Sentence{}, ErrNotAIS
	}

	s := Sentence{Raw: line, IsVDO: isVDO}
	body := line[1:]
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		sum := strings.TrimSpace(body[star+1:])
		body = body[:star]
		if len(sum) >= 2 {
			s.HasChecksum = true
			want, err := strconv.ParseUint(sum[:2], 16, 8)
			s.ChecksumOK = err == nil && byte(want) == Checksum(body)
		}
	}

	f := strings.Split(body, ",")
	if len(f) < 7 {
		return Sentence{}, fmt.Errorf("%w: %d fields", ErrMalformed, len(f))
	}
	var err error
	if s.Total, err = strconv.Atoi(f[1]); err != nil || s.Total < 1 {
		return Sentence{}, fmt.Errorf("%w: fragment count %q", ErrMalformed, f[1])
	}
	if s.Index, err = strconv.Atoi(f[2]); err != nil || s.Index < 1 || s.Index > s.Total {
		return Sentence{}, fmt.Errorf("%w: fragment index %q of %d", ErrMalformed, f[2], s.Total)
	}
	s.SeqID = f[3]
	s.Channel = f[4]
	s.Payload = f[5]
	if f[6] != "" {
		if s.FillBits, err = strconv.Atoi(f[6]); err != nil || s.FillBits < 0 || s.FillBits > 5 {
			return Sentence{}, fmt.Errorf("%w: fill bits %q", ErrMalformed, f[6])
		}
	}
	if s.Payload == "" {
		return Sentence{}, fmt.Errorf("%w: empty payload", ErrMalformed)
	}
	return s, nil
}

// Checksum is the NMEA XOR of every byte between the start delimiter and '*'.
func Checksum(body string) byte {
	var x byte
	for i := 0; i < len(body); i++ {
		x ^= body[i]
	}
	return x
}

// logTimeLayout is the prefix written by common AIS loggers, e.g.
// "2024-01-15 10:30:45 !AIVDM,1,1,,A,...".
const logTimeLayout = "2006-01-02 15:04:05"

// SplitLogLine strips a leading log timestamp (interpreted as UTC). When the
// line has no such prefix it is returned unchanged with ok=false.
func SplitLogLine(line string) (ts time.Time, msg string, ok bool) {
	line = strings.TrimSpace(line)
	n := len(logTimeLayout)
	if len(line) <= n || line[4] != '-' || line[7] != '-' || line[10] != ' ' {
		return time.Time{}, line, false
	}
	t, err := time.ParseInLocation(logTimeLayout, line[:n], time.UTC)
	if err != nil {
		return time.Time{}, line, false
	}
	return t, strings.TrimSpace(line[n:]), true
}
