// Package session binds a telnet.State to a TCP connection, giving an
// application a concurrent read/write surface plus a blocking line reader,
// while a background listener drains the socket and feeds the decoder.
package session

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"telnetd/telnet"
)

// readPollInterval is how often Listen re-arms the read deadline while
// polling a socket that has nothing to offer. Go's net.Conn has no portable
// non-blocking mode, so a short rolling deadline stands in for it.
const readPollInterval = 50 * time.Millisecond

// scratchBufferSize matches the reference implementation's fixed read
// buffer.
const scratchBufferSize = 255

// Session pairs one telnet.State with one TCP connection. The State and
// the connection are each guarded by their own mutex; Listen (the
// background reader) and the application's Read/Write/ReadLineWaiting may
// run concurrently against the same Session.
type Session struct {
	conn    net.Conn
	connMu  sync.Mutex
	state   *telnet.State
	stateMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// New takes ownership of a fresh State and a connected net.Conn, returning
// a Session ready for Listen and application use.
func New(state *telnet.State, conn net.Conn) (*Session, error) {
	if err := conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
		return nil, fmt.Errorf("session: set initial read deadline: %w", err)
	}
	return &Session{conn: conn, state: state}, nil
}

// Listen drains the socket and feeds the decoder until a fatal I/O or
// protocol error occurs. Intended to run on a dedicated goroutine; never
// returns normally.
func (s *Session) Listen() error {
	buf := make([]byte, scratchBufferSize)

	for {
		if !s.connMu.TryLock() {
			runtime.Gosched()
			continue
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			s.connMu.Unlock()
			return fmt.Errorf("session: set read deadline: %w", err)
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			s.connMu.Unlock()
			if isTimeout(err) {
				runtime.Gosched()
				continue
			}
			return fmt.Errorf("session: read: %w", err)
		}

		reply, err := s.withState(func(st *telnet.State) ([]byte, error) {
			return st.Write(buf[:n])
		})
		if err != nil {
			s.connMu.Unlock()
			return fmt.Errorf("session: decode: %w", err)
		}

		if len(reply) > 0 {
			if _, err := s.conn.Write(reply); err != nil {
				s.connMu.Unlock()
				return fmt.Errorf("session: write reply: %w", err)
			}
		}

		s.connMu.Unlock()
	}
}

func (s *Session) withState(fn func(*telnet.State) ([]byte, error)) ([]byte, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return fn(s.state)
}

// Read delegates to the State's Read under the State mutex. Non-blocking:
// returns (0, nil) if no cleaned payload is available.
func (s *Session) Read(dst []byte) (int, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state.Read(dst), nil
}

// Write sends bytes straight to the peer, bypassing the decoder. Outbound
// application bytes are already clean; TELNET replies emitted by State are
// the only protocol framing this server injects.
func (s *Session) Write(data []byte) (int, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn.Write(data)
}

// Flush is a no-op over a raw net.Conn; kept so callers written against a
// buffered-writer shape (as the reference implementation is) don't need a
// special case.
func (s *Session) Flush() error {
	return nil
}

// ReadLineWaiting blocks until a full line (terminated by '\n') is
// available and returns it, non-empty, including the trailing newline.
func (s *Session) ReadLineWaiting() (string, error) {
	var line []byte
	buf := make([]byte, 1)

	for {
		n, err := s.Read(buf)
		if err != nil {
			return "", err
		}
		switch n {
		case 1:
			line = append(line, buf[0])
			if buf[0] == '\n' {
				return string(line), nil
			}
		case 0:
			runtime.Gosched()
			continue
		default:
			panic(fmt.Sprintf("session: Read returned %d bytes into a 1-byte buffer", n))
		}
	}
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.connMu.Lock()
		defer s.connMu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// RemoteAddr returns the remote address of the underlying connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
