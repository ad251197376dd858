package completion

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"
)

// Event is one dispatched server-sent event.
type Event struct {
	Type  string
	ID    string
	Data  string
	Retry time.Duration
}

// Decoder parses a text/event-stream from any reader. Event boundaries come
// from blank lines in the byte stream, never from how the transport chunks it.
type Decoder struct {
	r       *bufio.Reader
	line    []byte
	skipLF  bool
	started bool

	data      strings.Builder
	hasData   bool
	eventType string
	lastID    string
	retry     time.Duration
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF once the stream is exhausted.
// A pending event is dispatched when the stream ends without a blank line.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) && d.hasData {
				return d.dispatch(), nil
			}
			return Event{}, err
		}
		if len(line) == 0 {
			if d.hasData {
				return d.dispatch(), nil
			}
			d.eventType = ""
			continue
		}
		d.processLine(line)
	}
}

// readLine returns one line without its terminator. CR, LF and CRLF all end a line.
func (d *Decoder) readLine() ([]byte, error) {
	d.line = d.line[:0]
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && len(d.line) > 0 {
				return d.stripBOM(), nil
			}
			return nil, err
		}
		if d.skipLF {
			d.skipLF = false
			if b == '\n' {
				continue
			}
		}
		switch b {
		case '\n':
			return d.stripBOM(), nil
		case '\r':
			d.skipLF = true
			return d.stripBOM(), nil
		default:
			d.line = append(d.line, b)
		}
	}
}

func (d *Decoder) stripBOM() []byte {
	if d.started {
		return d.line
	}
	d.started = true
	return []byte(strings.TrimPrefix(string(d.line), "\uFEFF"))
}

func (d *Decoder) processLine(line []byte) {
	if line[0] == ':' {
		return
	}
	field, value := string(line), ""
	if i := strings.IndexByte(field, ':'); i >= 0 {
		field, value = field[:i], field[i+1:]
		value = strings.TrimPrefix(value, " ")
	}
	switch field {
	case "data":
		if d.hasData {
			d.data.WriteByte('\n')
		}
		d.data.WriteString(value)
		d.hasData = true
	case "event":
		d.eventType = value
	case "id":
		if !strings.ContainsRune(value, 0) {
			d.lastID = value
		}
	case "retry":
		if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
			d.retry = time.Duration(ms) * time.Millisecond
		}
	}
}

func (d *Decoder) dispatch() Event {
	ev := Event{Type: d.eventType, ID: d.lastID, Data: d.data.String(), Retry: d.retry}
	if ev.Type == "" {
		ev.Type = "message"
	}
	d.data.Reset()
	d.hasData = false
	d.eventType = ""
	return ev
}
