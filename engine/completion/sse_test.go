package completion

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r io.Reader) []Event {
	t.Helper()
	dec := NewDecoder(r)
	var events []Event
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, ev)
	}
}

func TestDecoder_Next(t *testing.T) {
	t.Run("Should split events on blank lines", func(t *testing.T) {
		events := collect(t, strings.NewReader("data: one\n\ndata: two\n\n"))
		require.Len(t, events, 2)
		assert.Equal(t, "one", events[0].Data)
		assert.Equal(t, "message", events[0].Type)
		assert.Equal(t, "two", events[1].Data)
	})

	t.Run("Should strip a leading byte order mark only once", func(t *testing.T) {
		events := collect(t, strings.NewReader("\uFEFFdata: one\n\ndata: \uFEFFtwo\n\n"))
		require.Len(t, events, 2)
		assert.Equal(t, "one", events[0].Data)
		assert.Equal(t, "\uFEFFtwo", events[1].Data)
	})

	t.Run("Should accept CR, LF and CRLF line endings", func(t *testing.T) {
		events := collect(t, strings.NewReader("data: a\r\rdata: b\r\n\r\ndata: c\n\n"))
		require.Len(t, events, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{events[0].Data, events[1].Data, events[2].Data})
	})

	t.Run("Should join multi-line data with newlines", func(t *testing.T) {
		events := collect(t, strings.NewReader("data: first\ndata:second\ndata\n\n"))
		require.Len(t, events, 1)
		assert.Equal(t, "first\nsecond\n", events[0].Data)
	})

	t.Run("Should ignore comments and unknown fields", func(t *testing.T) {
		events := collect(t, strings.NewReader(": keep-alive\nfoo: bar\ndata: x\n\n: trailing\n\n"))
		require.Len(t, events, 1)
		assert.Equal(t, "x", events[0].Data)
	})

	t.Run("Should carry event type, id and retry", func(t *testing.T) {
		events := collect(t, strings.NewReader("event: ping\nid: 7\nretry: 1500\ndata: {}\n\ndata: next\n\n"))
		require.Len(t, events, 2)
		assert.Equal(t, "ping", events[0].Type)
		assert.Equal(t, "7", events[0].ID)
		assert.Equal(t, 1500*time.Millisecond, events[0].Retry)
		assert.Equal(t, "message", events[1].Type)
		assert.Equal(t, "7", events[1].ID)
	})

	t.Run("Should dispatch a pending event at end of stream", func(t *testing.T) {
		events := collect(t, strings.NewReader("data: tail"))
		require.Len(t, events, 1)
		assert.Equal(t, "tail", events[0].Data)
	})

	t.Run("Should not dispatch blocks without data", func(t *testing.T) {
		events := collect(t, strings.NewReader("event: ping\n\nid: 3\n\n"))
		assert.Empty(t, events)
	})

	t.Run("Should decode identically when bytes arrive one at a time", func(t *testing.T) {
		stream := "data: {\"a\":1}\r\n\r\n: c\rdata: two\rdata: lines\r\r"
		whole := collect(t, strings.NewReader(stream))
		trickled := collect(t, iotest.OneByteReader(strings.NewReader(stream)))
		assert.Equal(t, whole, trickled)
		require.Len(t, trickled, 2)
		assert.Equal(t, "two\nlines", trickled[1].Data)
	})

	t.Run("Should surface read errors", func(t *testing.T) {
		dec := NewDecoder(iotest.ErrReader(errors.New("reset by peer")))
		_, err := dec.Next()
		assert.ErrorContains(t, err, "reset by peer")
	})
}
