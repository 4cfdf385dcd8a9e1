// ABOUTME: In-memory Socket used by presence tests
// ABOUTME: Records written frames, pings, and the close code for assertions

package presence

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeSocket struct {
	mu        sync.Mutex
	frames    [][]byte
	pings     int
	closed    bool
	closeCode int
	failWrite bool
}

func (s *fakeSocket) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("use of closed socket")
	}
	if s.failWrite {
		return errors.New("broken pipe")
	}
	switch messageType {
	case websocket.PingMessage:
		s.pings++
	default:
		s.frames = append(s.frames, append([]byte(nil), data...))
	}
	return nil
}

func (s *fakeSocket) WriteControl(messageType int, data []byte, deadline time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		s.closeCode = int(binary.BigEndian.Uint16(data[:2]))
	}
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) code() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCode
}

func (s *fakeSocket) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// decoded returns every written frame.
func (s *fakeSocket) decoded(t *testing.T) []Frame {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Frame, 0, len(s.frames))
	for _, raw := range s.frames {
		var f Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

// events returns the frames whose event name matches.
func (s *fakeSocket) events(t *testing.T, event string) []Frame {
	t.Helper()
	var out []Frame
	for _, f := range s.decoded(t) {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// waitEvent blocks until at least n frames of event were written and
// returns the last one decoded into dst.
func (s *fakeSocket) waitEvent(t *testing.T, event string, n int, dst any) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.events(t, event)) >= n
	}, time.Second, 5*time.Millisecond, "waiting for %d %q frames", n, event)
	if dst != nil {
		frames := s.events(t, event)
		require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, dst))
	}
}

// newTestConnection returns a connection over a fake socket.
func newTestConnection(userID string) (*Connection, *fakeSocket) {
	sock := &fakeSocket{}
	return NewConnection(sock, userID, ConnectionOptions{}), sock
}
