package serialmux

import (
	"bytes"
	"io"
	"sync"
)

// MockPort is a Porter backed by fixture data, used in dev mode and tests.
// Reads drain the fixture and then block until the port is closed, imitating
// a quiet serial line. A read that returned (0, nil) instead would trip
// bufio.Scanner's no-progress limit and kill the monitor.
type MockPort struct {
	mu      sync.Mutex
	reader  *bytes.Reader
	written bytes.Buffer
	closed  bool
	done    chan struct{}
}

// NewMockPort creates a mock port that replays data.
func NewMockPort(data []byte) *MockPort {
	return &MockPort{
		reader: bytes.NewReader(data),
		done:   make(chan struct{}),
	}
}

func (p *MockPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.EOF
	}
	n, err := p.reader.Read(buf)
	p.mu.Unlock()

	if err == io.EOF {
		// Fixture exhausted: idle until Close instead of reporting EOF so
		// the monitor keeps running.
		<-p.done
		return 0, io.EOF
	}
	return n, err
}

func (p *MockPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.written.Write(data)
}

// Written returns everything written to the port so far.
func (p *MockPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}
