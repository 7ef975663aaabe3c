package stream

import (
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kbg/sjcam/pv"
	"github.com/kbg/sjcam/recorder"
)

// writeTimeout bounds how long a stalled client can block frame delivery.
const writeTimeout = 5 * time.Second

// Options configures a Streamer.
type Options struct {
	// MaxFPS caps the outgoing image rate; 0 means unlimited.
	MaxFPS float64

	// Scale shrinks rendered images by the given factor; 0 or 1 disables
	// scaling.
	Scale float64
}

type client struct {
	conn      net.Conn
	addr      string
	requested bool
}

// Streamer renders finished frames to JPEG and serves them to TCP clients
// on request.  ProcessFrame is called from the frame fan-out goroutine;
// everything else may be called concurrently.
type Streamer struct {
	opts Options

	mu      sync.Mutex
	ln      net.Listener
	clients map[net.Conn]*client
	latest  []byte

	limiter *rate.Limiter

	done chan struct{}
	wg   sync.WaitGroup
}

// New returns a streamer that is not yet listening.
func New(opts Options) *Streamer {
	s := &Streamer{
		opts:    opts,
		clients: make(map[net.Conn]*client),
		done:    make(chan struct{}),
	}
	if opts.MaxFPS > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.MaxFPS), 1)
	}
	return s
}

// Listen starts accepting streaming clients on addr.
func (s *Streamer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("streaming server: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the listener address, or nil before Listen.
func (s *Streamer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops the listener and disconnects all clients.
func (s *Streamer) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	close(s.done)
	s.mu.Lock()
	if s.ln != nil {
		s.ln.Close()
	}
	for conn := range s.clients {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// Connections lists the connected clients as host:port strings.
func (s *Streamer) Connections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]string, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c.addr)
	}
	sort.Strings(conns)
	return conns
}

// LatestJPEG returns a copy of the most recently rendered image, or nil
// when nothing has been rendered yet.
func (s *Streamer) LatestJPEG() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil
	}
	return append([]byte(nil), s.latest...)
}

// ProcessFrame renders the frame and delivers it to every client with a
// pending image request.  Frames with a failure status are not rendered;
// the rate cap skips rendering entirely when exceeded.  The caller keeps
// ownership of the frame and forwards it downstream regardless.
func (s *Streamer) ProcessFrame(f recorder.Frame) error {
	if f == nil || f.Status() != pv.ErrSuccess {
		return nil
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return nil
	}

	// a render failure still yields the black placeholder; the error is
	// returned once the placeholder has been delivered
	img, err := renderGray(f)
	if s.opts.Scale > 0 && s.opts.Scale != 1 {
		img = downscale(img, s.opts.Scale)
	}
	data, encErr := encodeJPEG(img)
	if encErr != nil {
		return encErr
	}

	s.mu.Lock()
	s.latest = data
	var pending []*client
	for _, c := range s.clients {
		if c.requested {
			c.requested = false
			pending = append(pending, c)
		}
	}
	s.mu.Unlock()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	for _, c := range pending {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, werr := c.conn.Write(hdr[:]); werr != nil {
			c.conn.Close()
			continue
		}
		if _, werr := c.conn.Write(data); werr != nil {
			c.conn.Close()
		}
	}
	return err
}

func (s *Streamer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				log.Printf("streaming server: %v", err)
			}
			return
		}
		c := &client{conn: conn, addr: conn.RemoteAddr().String()}
		s.mu.Lock()
		s.clients[conn] = c
		s.mu.Unlock()
		log.Printf("Streaming client connected [%s].", c.addr)
		s.wg.Add(1)
		go s.readLoop(c)
	}
}

// readLoop marks the client image-requested whenever it sends data.  Any
// bytes count as one request; pending input is discarded.
func (s *Streamer) readLoop(c *client) {
	defer s.wg.Done()
	buf := make([]byte, 256)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			s.mu.Lock()
			c.requested = true
			s.mu.Unlock()
		}
		if err != nil {
			break
		}
	}
	s.mu.Lock()
	delete(s.clients, c.conn)
	s.mu.Unlock()
	c.conn.Close()
	log.Printf("Streaming client disconnected [%s].", c.addr)
}
