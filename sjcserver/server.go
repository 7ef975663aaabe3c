/*Package sjcserver ties the camera server together: it owns the recorder
engine, the JPEG streamer, the FITS writer and the control protocol client,
routes operator commands to engine operations and recycles every finished
frame through streamer and writer back into the engine's buffer pool.
*/
package sjcserver

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/kbg/sjcam/dcp"
	"github.com/kbg/sjcam/fitsrec"
	"github.com/kbg/sjcam/pv"
	"github.com/kbg/sjcam/recorder"
	"github.com/kbg/sjcam/stream"
)

// telemetryDepth is how many recent frames the measured-rate telemetry
// averages over.
const telemetryDepth = 64

// Server is the camera server.
type Server struct {
	cfg Config

	rec      *recorder.Recorder
	streamer *stream.Streamer
	writer   *fitsrec.Writer
	client   *dcp.Client
	tele     *Telemetry

	// PvVersion is the driver library version reported by "get pvversion".
	// The daemon sets it at startup; it stays empty in tests.
	PvVersion string

	// send delivers outgoing protocol messages; replaced in tests.
	send func(dcp.Message)

	mu      sync.Mutex
	verbose bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New assembles a server from its parts.  Nothing is started; call Start.
func New(cfg Config, rec *recorder.Recorder) *Server {
	s := &Server{
		cfg: cfg,
		rec: rec,
		streamer: stream.New(stream.Options{
			MaxFPS: cfg.Streaming.MaxFPS,
			Scale:  cfg.Streaming.Scale,
		}),
		writer: fitsrec.New(cfg.Writer.Directory, cfg.Writer.Prefix),
		client: dcp.NewClient(cfg.Dcp.Addr(), cfg.Dcp.DeviceName),
		tele:   NewTelemetry(telemetryDepth),
		done:   make(chan struct{}),
	}
	s.verbose = cfg.Verbose
	s.send = s.sendToClient
	s.writer.SetCreator("SjcServer v" + Version)
	s.writer.SetDeviceName(cfg.Dcp.DeviceName)
	s.writer.SetTelescopeName(cfg.Writer.Telescope)
	s.client.Notify = s.dcpStateChanged
	return s
}

// Recorder exposes the engine for the diagnostics surface.
func (s *Server) Recorder() *recorder.Recorder { return s.rec }

// Streamer exposes the streamer for the diagnostics surface.
func (s *Server) Streamer() *stream.Streamer { return s.streamer }

// Telemetry exposes the frame telemetry for the diagnostics surface.
func (s *Server) Telemetry() *Telemetry { return s.tele }

// Verbose reports whether verbose output is enabled.
func (s *Server) Verbose() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verbose
}

// SetVerbose toggles verbose output.
func (s *Server) SetVerbose(v bool) {
	s.mu.Lock()
	s.verbose = v
	s.mu.Unlock()
}

// Start launches the streaming listener, the engine event loop and the
// protocol client.
func (s *Server) Start() error {
	if s.cfg.Streaming.ListenAddr != "" {
		if err := s.streamer.Listen(s.cfg.Streaming.ListenAddr); err != nil {
			return err
		}
		log.Printf("Streaming server listening on %s.", s.cfg.Streaming.ListenAddr)
	}

	events := s.rec.Subscribe(256)
	s.wg.Add(1)
	go s.eventLoop(events)

	s.wg.Add(1)
	go s.messageLoop()
	s.client.Start()
	return nil
}

// Stop shuts everything down in dependency order: capture first, then the
// camera session, then the network surfaces.
func (s *Server) Stop() {
	close(s.done)
	if s.rec.IsRunning() {
		s.rec.Stop()
	}
	if err := s.rec.CloseCamera(); err != nil {
		log.Printf("Error: %v", err)
	}
	s.streamer.Close()
	s.client.Close()
	s.wg.Wait()
}

// OpenCamera opens the configured camera, applies the default and
// configured attribute settings and starts capturing.
func (s *Server) OpenCamera() error {
	s.rec.SetNumBuffers(s.cfg.Camera.NumBuffers)
	if err := s.rec.OpenCamera(s.cfg.Camera.UniqueID); err != nil {
		return err
	}

	// default attribute settings
	s.setAttr("FrameStartTriggerMode", "FixedRate")
	s.setAttr("FrameRate", "10")
	s.setAttr("ExposureValue", "10000")
	s.setAttr("PixelFormat", "Mono16")

	// config file attribute settings
	names := make([]string, 0, len(s.cfg.Camera.Attr))
	for name := range s.cfg.Camera.Attr {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s.setAttr(name, s.cfg.Camera.Attr[name])
	}

	s.writer.SetCameraInfo(s.rec.CameraInfo())
	if s.Verbose() {
		log.Printf("\n%s\n", s.rec.CameraInfoString())
	}

	s.rec.Start()
	return nil
}

// CloseCamera stops capturing and closes the camera session.
func (s *Server) CloseCamera() error {
	if s.rec.IsRunning() {
		s.rec.Stop()
	}
	return s.rec.CloseCamera()
}

func (s *Server) setAttr(name, value string) {
	if err := s.rec.SetAttribute(name, value); err != nil {
		log.Printf("Error: cannot set attribute %s to %q: %v", name, value, err)
	}
}

func (s *Server) sendToClient(m dcp.Message) {
	if s.Verbose() {
		log.Printf("%s", m)
	}
	if err := s.client.Send(m); err != nil {
		log.Printf("Error: %v", err)
	}
}

func (s *Server) dcpStateChanged(state dcp.State) {
	switch state {
	case dcp.StateConnecting:
		log.Printf("Connecting to DCP server [%s]...", s.client.Addr())
	case dcp.StateConnected:
		log.Printf("Connected to DCP server [%s@%s].", s.client.DeviceName(), s.client.Addr())
	case dcp.StateDisconnected:
		log.Printf("Disconnected from DCP server.")
	}
}

// messageLoop dispatches incoming protocol commands until shutdown.
func (s *Server) messageLoop() {
	defer s.wg.Done()
	for {
		select {
		case msg, ok := <-s.client.Messages():
			if !ok {
				return
			}
			if s.Verbose() {
				log.Printf("%s", msg)
			}
			if msg.IsReply() {
				continue
			}
			s.handleMessage(msg)
		case <-s.done:
			return
		}
	}
}

// eventLoop consumes engine events: log lines for info and errors, the
// frame fan-out for completions.
func (s *Server) eventLoop(events <-chan recorder.Event) {
	defer s.wg.Done()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case recorder.EventInfo:
				log.Print(ev.Message)
			case recorder.EventError:
				log.Printf("Error: %s", ev.Message)
			case recorder.EventStarted:
				log.Print("Capturing started.")
			case recorder.EventStopped:
				log.Print("Capturing stopped.")
			case recorder.EventFrame:
				s.handleFrame(ev.Frame)
			}
		case <-s.done:
			return
		}
	}
}

// handleFrame moves finished frames through streamer and writer and returns
// their buffers to the engine's pool.  It drains the whole output queue, not
// just one frame: frame events arrive over a bounded channel and may get
// dropped under load, and a buffer must never stay stranded behind a lost
// wakeup.
func (s *Server) handleFrame(info recorder.FrameInfo) {
	if s.Verbose() {
		fmt.Print(statusMark(info.Status))
	}

	for {
		f, ok := s.rec.ReadFinishedFrame()
		if !ok {
			return
		}
		s.tele.Record(time.Now())

		if err := s.streamer.ProcessFrame(f); err != nil {
			log.Printf("Error: %v", err)
		}
		if _, err := s.writer.ProcessFrame(f); err != nil {
			log.Printf("Error: %v", err)
		}
		s.rec.EnqueueFrame(f)
	}
}

// statusMark is the single-character progress indicator printed per frame
// in verbose mode.
func statusMark(status pv.ErrCode) string {
	switch status {
	case pv.ErrSuccess:
		return "."
	case pv.ErrCancelled:
		return "C"
	case pv.ErrDataLost:
		return "L"
	case pv.ErrDataMissing:
		return "M"
	}
	return "?"
}
