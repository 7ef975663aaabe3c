package dcp

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// State describes the client's connection to the protocol server.
type State int

// The connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// Client maintains a connection to the protocol server under a fixed device
// name.  After connecting it announces its name so the server can route
// command messages to it; if the connection drops it reconnects with
// exponential backoff until Close is called.
type Client struct {
	addr   string
	device string

	// Notify, when set before Start, is called on every connection state
	// change from the client's management goroutine.
	Notify func(State)

	mu   sync.Mutex
	conn net.Conn

	incoming chan Message
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewClient returns an unstarted client for the given server address and
// device name.
func NewClient(addr, device string) *Client {
	return &Client{
		addr:     addr,
		device:   device,
		incoming: make(chan Message, 32),
		done:     make(chan struct{}),
	}
}

// DeviceName returns the name the client registers under.
func (c *Client) DeviceName() string { return c.device }

// Addr returns the server address.
func (c *Client) Addr() string { return c.addr }

// Messages returns the channel of received messages.  It is closed when the
// client shuts down.
func (c *Client) Messages() <-chan Message { return c.incoming }

// Start launches the connection management goroutine.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.run()
}

// Close disconnects and stops reconnecting.  It blocks until the management
// goroutine has exited.
func (c *Client) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.done)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one message to the server.
func (c *Client) Send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("cannot send message: not connected")
	}
	if _, err := fmt.Fprintf(c.conn, "%s\n", m.Encode()); err != nil {
		return fmt.Errorf("cannot send message: %w", err)
	}
	return nil
}

func (c *Client) notify(s State) {
	if c.Notify != nil {
		c.Notify(s)
	}
}

func (c *Client) run() {
	defer c.wg.Done()
	defer close(c.incoming)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	bo.MaxInterval = 10 * time.Second

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.notify(StateConnecting)
		conn, err := net.Dial("tcp", c.addr)
		if err != nil {
			c.notify(StateDisconnected)
			select {
			case <-time.After(bo.NextBackOff()):
				continue
			case <-c.done:
				return
			}
		}
		bo.Reset()

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.notify(StateConnected)

		// announce the device name so the server can route commands
		c.Send(Message{
			Flags:  UrgentFlag,
			Source: c.device,
			Dest:   "dcpd",
			Data:   "register " + c.device,
		})

		c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.notify(StateDisconnected)
	}
}

// readLoop delivers incoming lines until the connection fails or the client
// shuts down.
func (c *Client) readLoop(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		m, err := ParseMessage(sc.Text())
		if err != nil {
			log.Printf("dcp: dropping %v", err)
			continue
		}
		select {
		case c.incoming <- m:
		case <-c.done:
			return
		}
	}
}
