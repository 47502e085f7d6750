// Package telnet implements the TELNET (RFC 854) line-protocol state machine:
// a byte-by-byte decoder/encoder that strips IAC command sequences, option
// negotiation, editing controls and ANSI CSI escapes out of a raw inbound
// byte stream, leaving behind clean application payload.
package telnet

import (
	"errors"
	"fmt"
)

// Protocol constants (RFC 854, RFC 855).
const (
	IAC      byte = 255 // Interpret As Command
	iacSB    byte = 250 // Subnegotiation begin
	iacSE    byte = 240 // Subnegotiation end
	iacWill  byte = 251
	iacWont  byte = 252
	iacDo    byte = 253
	iacDont  byte = 254
	optEcho  byte = 1

	eraseLine      byte = 248
	charErase      byte = 247
	charBackspace  byte = 8
	charDelete     byte = 127
	charEscape     byte = 27
	bel            byte = 7
)

// csiTerminators is the set of bytes that end an ANSI CSI sequence
// (ESC '[' params terminator).
var csiTerminators = [256]bool{
	'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true,
	'G': true, 'H': true, 'J': true, 'K': true, 'S': true, 'T': true,
	'f': true, 'm': true, 'i': true, 'n': true, 's': true, 'u': true,
	'h': true, 'l': true,
}

// ansiEraseLine is the reply sent on ERASE_LINE while echoing: move to
// start of line and clear it.
var ansiEraseLine = []byte{charEscape, '[', '2', 'K', '\r'}

// ErrInvalidCommand is the sentinel wrapped by Write when an IAC is
// followed by a command byte this decoder does not recognize.
var ErrInvalidCommand = errors.New("telnet: invalid command byte")

// mode is the decoder's current interpretation of the next inbound byte.
type mode int

const (
	modeIdle mode = iota
	modeCommand
	modeCommandWill
	modeCommandWont
	modeCommandDo
	modeCommandDont
	modeSubNegotiation
	modeAnsiEscapeSequence
)

// StateConfig configures a State at construction time.
type StateConfig struct {
	// HandleANSIEscapeSequences, when true, keeps CSI sequences in the
	// output buffer as literal bytes instead of discarding them with a BEL.
	HandleANSIEscapeSequences bool
}

// State is a single-peer TELNET decoder/encoder. It performs no I/O: it
// only consumes raw inbound bytes and produces cleaned application payload
// plus any immediate protocol reply. Not safe for concurrent use without
// external synchronization (see package session).
type State struct {
	outputBuffer              []byte
	mode                      mode
	isEchoing                 bool
	handleANSIEscapeSequences bool
}

// New returns a fresh State per the given configuration.
func New(config StateConfig) *State {
	return &State{
		mode:                      modeIdle,
		handleANSIEscapeSequences: config.HandleANSIEscapeSequences,
	}
}

// Write feeds an arbitrary slice of inbound wire bytes through the state
// machine and returns the concatenated immediate reply, if any. It returns
// a non-nil error only when an IAC is followed by an unrecognized command
// byte (wrapping ErrInvalidCommand); the caller must then treat the
// connection as corrupted. Reply bytes produced by bytes preceding the one
// that errored are discarded, not returned.
func (s *State) Write(data []byte) ([]byte, error) {
	var response []byte

	for _, b := range data {
		var reply []byte
		var err error

		switch s.mode {
		case modeIdle:
			reply = s.onIdle(b)
		case modeCommand:
			reply, err = s.onCommand(b)
		case modeCommandWill, modeCommandWont:
			s.mode = modeIdle
		case modeCommandDo:
			reply = s.onDo(b)
		case modeCommandDont:
			reply = s.onDont(b)
		case modeSubNegotiation:
			s.onSubNegotiation(b)
		case modeAnsiEscapeSequence:
			reply = s.onAnsiEscapeSequence(b)
		}

		if err != nil {
			return nil, err
		}
		response = append(response, reply...)
	}

	return response, nil
}

func (s *State) onIdle(b byte) []byte {
	switch b {
	case IAC:
		s.mode = modeCommand
		return nil

	case charDelete, charBackspace, charErase:
		if n := len(s.outputBuffer); n > 0 {
			s.outputBuffer = s.outputBuffer[:n-1]
		}
		if s.isEchoing {
			return []byte{charBackspace, ' ', charBackspace}
		}
		return nil

	case eraseLine:
		s.outputBuffer = eraseCurrentLine(s.outputBuffer)
		if s.isEchoing {
			return ansiEraseLine
		}
		return nil

	case charEscape:
		s.mode = modeAnsiEscapeSequence
		if s.handleANSIEscapeSequences {
			s.outputBuffer = append(s.outputBuffer, b)
		}
		if s.isEchoing {
			return []byte{b}
		}
		return nil

	default:
		s.outputBuffer = append(s.outputBuffer, b)
		if s.isEchoing {
			return []byte{b}
		}
		return nil
	}
}

func (s *State) onCommand(b byte) ([]byte, error) {
	switch b {
	case iacWill:
		s.mode = modeCommandWill
	case iacWont:
		s.mode = modeCommandWont
	case iacDo:
		s.mode = modeCommandDo
	case iacDont:
		s.mode = modeCommandDont
	case iacSB:
		s.mode = modeSubNegotiation
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCommand, b)
	}
	return nil, nil
}

func (s *State) onDo(opt byte) []byte {
	s.mode = modeIdle
	if opt == optEcho {
		s.isEchoing = true
		return []byte{IAC, iacWill, optEcho}
	}
	return []byte{IAC, iacWont, opt}
}

func (s *State) onDont(opt byte) []byte {
	s.mode = modeIdle
	if opt == optEcho {
		s.isEchoing = false
	}
	return []byte{IAC, iacWont, opt}
}

func (s *State) onSubNegotiation(b byte) {
	if b == iacSE {
		s.mode = modeIdle
	}
}

func (s *State) onAnsiEscapeSequence(b byte) []byte {
	if s.handleANSIEscapeSequences {
		s.outputBuffer = append(s.outputBuffer, b)
		if csiTerminators[b] {
			s.mode = modeIdle
		}
		if s.isEchoing {
			return []byte{b}
		}
		return nil
	}

	if !csiTerminators[b] {
		return nil
	}
	s.mode = modeIdle
	return []byte{bel}
}

// Read copies up to min(len(dst), len(output buffer)) bytes from the head
// of the output buffer into dst, removing them, and returns the count
// copied. It never blocks; zero means no cleaned payload is available yet.
func (s *State) Read(dst []byte) int {
	n := len(dst)
	if len(s.outputBuffer) < n {
		n = len(s.outputBuffer)
	}
	copy(dst, s.outputBuffer[:n])
	s.outputBuffer = s.outputBuffer[n:]
	return n
}

// eraseCurrentLine implements RFC 854's erase-current-line editing control:
// characters are removed from the tail back to, but not including, the
// last CR LF pair. Idempotent on a buffer already ending in CR LF.
func eraseCurrentLine(buffer []byte) []byte {
	for {
		n := len(buffer)
		if n < 2 {
			return buffer[:0]
		}
		if buffer[n-2] == '\r' && buffer[n-1] == '\n' {
			return buffer
		}
		buffer = buffer[:n-1]
	}
}
