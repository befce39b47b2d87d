// Package telnet implements the FlightGear props/telnet interface used for
// one-off property reads and writes alongside the UDP command stream. It is
// suitable for occasional commands (pause, mode switches); the endpoint's
// datagram path carries the high-rate setpoint stream.
package telnet

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/laminar-data/fgbridge/internal/monitoring"
)

// Client is a line-oriented connection to the simulator's props server in
// data mode. All methods are safe for concurrent use; requests are
// serialised on the wire.
type Client struct {
	mu          sync.Mutex
	conn        net.Conn
	r           *bufio.Reader
	readTimeout time.Duration
}

// DialOptions configures Dial.
type DialOptions struct {
	// RetryInterval between connection attempts while the simulator is
	// still starting. Defaults to 400ms.
	RetryInterval time.Duration

	// ReadTimeout bounds each response read. Defaults to 5s.
	ReadTimeout time.Duration
}

// Dial connects to the props server at host:port, retrying until the
// simulator accepts the connection or ctx is cancelled. On success the
// session is switched to data mode.
func Dial(ctx context.Context, host string, port int, opts DialOptions) (*Client, error) {
	retry := opts.RetryInterval
	if retry == 0 {
		retry = 400 * time.Millisecond
	}
	readTimeout := opts.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			c := &Client{
				conn:        conn,
				r:           bufio.NewReader(conn),
				readTimeout: readTimeout,
			}
			// Switch to data mode so responses are bare values.
			if err := c.put("data"); err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to enter data mode: %w", err)
			}
			monitoring.Logf("telnet: connected to %s", addr)
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("telnet dial %s: %w", addr, ctx.Err())
		case <-time.After(retry):
		}
	}
}

// put writes one command line. Callers must hold no locks; put takes its own.
func (c *Client) put(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(cmd)
}

func (c *Client) putLocked(cmd string) error {
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return fmt.Errorf("telnet write: %w", err)
	}
	return nil
}

// roundTrip writes a command and reads the single-line response.
func (c *Client) roundTrip(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.putLocked(cmd); err != nil {
		return "", err
	}
	c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("telnet read: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Get returns the raw value of a simulator property.
func (c *Client) Get(prop string) (string, error) {
	return c.roundTrip("get " + prop)
}

// GetFloat returns a property parsed as a float64.
func (c *Client) GetFloat(prop string) (float64, error) {
	raw, err := c.Get(prop)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("property %s is not numeric (%q): %w", prop, raw, err)
	}
	return v, nil
}

// GetBool returns a property parsed as a boolean ("true"/"false").
func (c *Client) GetBool(prop string) (bool, error) {
	raw, err := c.Get(prop)
	if err != nil {
		return false, err
	}
	switch strings.TrimSpace(raw) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("property %s is not boolean (%q)", prop, raw)
	}
}

// Set writes a simulator property. Values are rendered with %v, matching the
// props server's string-typed set command.
func (c *Client) Set(prop string, value interface{}) error {
	return c.put(fmt.Sprintf("set %s %v", prop, value))
}

// Close terminates the session politely and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Best effort: the server closes promptly on quit.
	c.putLocked("quit")
	return c.conn.Close()
}
