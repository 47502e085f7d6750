package telnet

import "testing"

func newState(ansi bool) *State {
	return New(StateConfig{HandleANSIEscapeSequences: ansi})
}

func drain(t *testing.T, s *State) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 16)
	for {
		n := s.Read(buf)
		if n == 0 {
			return out
		}
		out = append(out, buf[:n]...)
	}
}

func TestEchoNegotiation(t *testing.T) {
	s := newState(false)
	reply, err := s.Write([]byte{IAC, iacDo, optEcho})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := reply, []byte{IAC, iacWill, optEcho}; string(got) != string(want) {
		t.Errorf("reply = %v, want %v", got, want)
	}
	if !s.isEchoing {
		t.Error("expected is_echoing to be true")
	}
	if len(s.outputBuffer) != 0 {
		t.Errorf("expected empty output buffer, got %v", s.outputBuffer)
	}
}

func TestEchoOfData(t *testing.T) {
	s := newState(false)
	if _, err := s.Write([]byte{IAC, iacDo, optEcho}); err != nil {
		t.Fatal(err)
	}
	reply, err := s.Write([]byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if string(reply) != "hi" {
		t.Errorf("reply = %q, want %q", reply, "hi")
	}
	if string(s.outputBuffer) != "hi" {
		t.Errorf("output buffer = %q, want %q", s.outputBuffer, "hi")
	}
}

func TestBackspaceWithEcho(t *testing.T) {
	s := newState(false)
	if _, err := s.Write([]byte{IAC, iacDo, optEcho}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	reply, err := s.Write([]byte{charDelete})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{charBackspace, ' ', charBackspace}
	if string(reply) != string(want) {
		t.Errorf("reply = %v, want %v", reply, want)
	}
	if string(s.outputBuffer) != "h" {
		t.Errorf("output buffer = %q, want %q", s.outputBuffer, "h")
	}
}

func TestUnknownDoOption(t *testing.T) {
	s := newState(false)
	reply, err := s.Write([]byte{IAC, iacDo, 42})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{IAC, iacWont, 42}
	if string(reply) != string(want) {
		t.Errorf("reply = %v, want %v", reply, want)
	}
	if s.isEchoing {
		t.Error("is_echoing should be unchanged")
	}
}

func TestSubNegotiationDiscard(t *testing.T) {
	s := newState(false)
	data := []byte{IAC, iacSB, 24, 0, 'X', IAC, iacSE, 'A'}
	reply, err := s.Write(data)
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Errorf("expected no reply, got %v", reply)
	}
	if string(s.outputBuffer) != "A" {
		t.Errorf("output buffer = %q, want %q", s.outputBuffer, "A")
	}
}

func TestEraseLinePreservesCRLF(t *testing.T) {
	s := newState(false)
	s.outputBuffer = []byte("abc\r\ndef")
	reply, err := s.Write([]byte{eraseLine})
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Errorf("expected no reply, got %v", reply)
	}
	if string(s.outputBuffer) != "abc\r\n" {
		t.Errorf("output buffer = %q, want %q", s.outputBuffer, "abc\r\n")
	}
}

func TestEraseCurrentLineIdempotent(t *testing.T) {
	buf := []byte("abc\r\ndef")
	buf = eraseCurrentLine(buf)
	if string(buf) != "abc\r\n" {
		t.Fatalf("first pass = %q, want %q", buf, "abc\r\n")
	}
	buf = eraseCurrentLine(buf)
	if string(buf) != "abc\r\n" {
		t.Fatalf("second pass = %q, want %q", buf, "abc\r\n")
	}
}

func TestEraseCurrentLineEmptiesWithoutCRLF(t *testing.T) {
	buf := []byte("abcdef")
	buf = eraseCurrentLine(buf)
	if len(buf) != 0 {
		t.Fatalf("buffer = %q, want empty", buf)
	}
}

func TestIgnoredCSIProducesBEL(t *testing.T) {
	s := newState(false)
	reply, err := s.Write([]byte{charEscape, '[', '3', '1', 'm'})
	if err != nil {
		t.Fatal(err)
	}
	if string(reply) != string([]byte{bel}) {
		t.Errorf("reply = %v, want BEL", reply)
	}
	if len(s.outputBuffer) != 0 {
		t.Errorf("output buffer = %v, want empty", s.outputBuffer)
	}
	if s.mode != modeIdle {
		t.Errorf("mode = %v, want Idle", s.mode)
	}
}

func TestHandledCSIRetainedInBuffer(t *testing.T) {
	s := newState(true)
	reply, err := s.Write([]byte{charEscape, '[', '3', '1', 'm'})
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Errorf("expected no reply with echo off, got %v", reply)
	}
	if string(s.outputBuffer) != "\x1b[31m" {
		t.Errorf("output buffer = %q, want %q", s.outputBuffer, "\x1b[31m")
	}
	if s.mode != modeIdle {
		t.Errorf("mode = %v, want Idle", s.mode)
	}
}

func TestMalformedCommandIsFatal(t *testing.T) {
	s := newState(false)
	_, err := s.Write([]byte{IAC, 99})
	if err == nil {
		t.Fatal("expected error for unknown command byte")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	s := newState(false)
	payload := []byte("hello world")
	reply, err := s.Write(payload)
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Errorf("expected no reply with echo off, got %v", reply)
	}
	got := drain(t, s)
	if string(got) != string(payload) {
		t.Errorf("drained = %q, want %q", got, payload)
	}
}

func TestNoResponseWithEchoOff(t *testing.T) {
	s := newState(false)
	reply, err := s.Write([]byte("any payload without commands"))
	if err != nil {
		t.Fatal(err)
	}
	if reply != nil {
		t.Errorf("expected nil reply, got %v", reply)
	}
}

func TestReadNeverBlocksOnEmptyBuffer(t *testing.T) {
	s := newState(false)
	buf := make([]byte, 4)
	if n := s.Read(buf); n != 0 {
		t.Errorf("Read() = %d, want 0", n)
	}
}

func TestModeReturnsToIdleAfterCommand(t *testing.T) {
	s := newState(false)
	if _, err := s.Write([]byte{IAC, iacWill, 5}); err != nil {
		t.Fatal(err)
	}
	if s.mode != modeIdle {
		t.Errorf("mode = %v, want Idle", s.mode)
	}
}
