// Package protocol drives the line-oriented turn exchange with a bot process.
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
	"sync"

	"botarena/internal/arena/model"
)

// DefaultMaxLine bounds a single response line.
const DefaultMaxLine = 4096

var (
	errPartialLine = errors.New("output ended without a newline")
	// ErrLineTooLong reports a response longer than the session limit.
	ErrLineTooLong = bufio.ErrTooLong
)

// Prompt is what a bot receives at the start of its turn.
type Prompt struct {
	Position  string
	MineMS    int64
	TheirsMS  int64
	InitialMS int64
}

// Encode renders the two prompt lines.
func (p Prompt) Encode() []byte {
	var b bytes.Buffer
	b.WriteString(p.Position)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(p.MineMS, 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(p.TheirsMS, 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(p.InitialMS, 10))
	b.WriteByte('\n')
	return b.Bytes()
}

// Session owns one bot's pipes. A background reader splits stdout into lines.
type Session struct {
	side  model.Side
	stdin io.Writer

	lines  chan string
	eof    chan struct{}
	closed chan struct{}

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
}

// NewSession starts reading stdout. maxLine <= 0 uses DefaultMaxLine.
func NewSession(side model.Side, stdin io.Writer, stdout io.Reader, maxLine int) *Session {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	s := &Session{
		side:   side,
		stdin:  stdin,
		lines:  make(chan string, 8),
		eof:    make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.readLoop(stdout, maxLine)
	return s
}

func (s *Session) Side() model.Side {
	return s.side
}

func (s *Session) readLoop(stdout io.Reader, maxLine int) {
	defer close(s.eof)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, min(maxLine, 4096)), maxLine)
	scanner.Split(splitLines)
	for scanner.Scan() {
		select {
		case s.lines <- scanner.Text():
		case <-s.closed:
			return
		}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	s.errMu.Lock()
	s.readErr = err
	s.errMu.Unlock()
}

// splitLines yields complete lines only; a trailing fragment at EOF is an error.
func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[:i], []byte{'\r'}), nil
	}
	if atEOF && len(data) > 0 {
		return 0, nil, errPartialLine
	}
	return 0, nil, nil
}

// Err returns why stdout stopped producing lines, once it has.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

// Close abandons the reader; it exits once the process pipes are closed.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// pending returns a line already received, if any.
func (s *Session) pending() (string, bool) {
	select {
	case line := <-s.lines:
		return line, true
	default:
		return "", false
	}
}
