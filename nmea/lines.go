package nmea

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// LineReader splits a capture into lines. A line longer than its limit is
// reported once as overlong and skipped, so one stray blob never ends the
// read.
type LineReader struct {
	br  *bufio.Reader
	max int
}

// NewLineReader reads lines of at most max bytes from r.
func NewLineReader(r io.Reader, max int) *LineReader {
	return &LineReader{br: bufio.NewReaderSize(r, 4096), max: max}
}

// Next returns the next line without its terminator. For an overlong line
// it returns "" and overlong set. err is io.EOF once the input is used up.
func (l *LineReader) Next() (line string, overlong bool, err error) {
	var buf []byte
	for {
		chunk, err := l.br.ReadSlice('\n')
		if !overlong {
			buf = append(buf, chunk...)
			if len(strings.TrimRight(string(buf), "\r\n")) > l.max {
				overlong, buf = true, nil
			}
		}
		switch {
		case err == nil:
			return l.result(buf, overlong)
		case errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF):
			if len(buf) == 0 && !overlong {
				return "", false, io.EOF
			}
			return l.result(buf, overlong)
		default:
			return "", false, err
		}
	}
}

func (l *LineReader) result(buf []byte, overlong bool) (string, bool, error) {
	if overlong {
		return "", true, nil
	}
	return strings.TrimRight(string(buf), "\r\n"), false, nil
}
