package sjcserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/kbg/sjcam/dcp"
)

// handleMessage answers one command message with an acknowledgement and a
// final reply.  Unknown identifiers and arity or parse failures are
// rejected in the acknowledgement; errors during execution are reported in
// the final reply's error code.
func (s *Server) handleMessage(msg dcp.Message) {
	cmd, err := dcp.ParseCommand(msg.Data)
	if err != nil {
		s.send(msg.Ack(dcp.AckUnknownCommandError))
		return
	}
	if cmd.Type == dcp.SetCmd {
		s.handleSet(msg, cmd)
	} else {
		s.handleGet(msg, cmd)
	}
}

func (s *Server) handleSet(msg dcp.Message, cmd dcp.Command) {
	switch cmd.Identifier {

	// set nop
	//     returns: FIN
	case "nop":
		if cmd.HasArgs() {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		s.send(msg.Ack(dcp.AckOk))
		s.send(msg.Reply("", 0))

	// set camera ( open | close )
	//     errcodes: 1 -> cannot open/close camera
	case "camera":
		if cmd.NumArgs() != 1 {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		var open bool
		switch cmd.Args[0] {
		case "open":
			open = true
		case "close":
			open = false
		default:
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		if open && s.rec.IsCameraOpen() {
			s.send(msg.Ack(dcp.AckWrongModeError))
			return
		}
		s.send(msg.Ack(dcp.AckOk))

		errcode := 0
		if open {
			if err := s.OpenCamera(); err != nil {
				errcode = 1
			}
		} else if s.rec.IsCameraOpen() {
			if err := s.CloseCamera(); err != nil {
				errcode = 1
			}
		}
		s.send(msg.Reply("", errcode))

	// set capturing ( start | stop )
	case "capturing":
		if cmd.NumArgs() != 1 {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		var start bool
		switch cmd.Args[0] {
		case "start":
			start = true
		case "stop":
			start = false
		default:
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		// wrong mode when trying to start capturing while the camera is
		// not opened yet or the capture worker is already running
		if start && (!s.rec.IsCameraOpen() || s.rec.IsRunning()) {
			s.send(msg.Ack(dcp.AckWrongModeError))
			return
		}
		s.send(msg.Ack(dcp.AckOk))

		if start {
			s.rec.Start()
		} else if s.rec.IsRunning() {
			s.rec.Stop()
		}
		s.send(msg.Reply("", 0))

	// set exposure <usecs>
	//     errcodes: 1 -> cannot set exposure value
	case "exposure":
		if cmd.NumArgs() != 1 {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		if _, err := strconv.ParseUint(cmd.Args[0], 10, 32); err != nil {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		s.send(msg.Ack(dcp.AckOk))

		errcode := 0
		if err := s.rec.SetAttribute("ExposureValue", cmd.Args[0]); err != nil {
			errcode = 1
		}
		s.send(msg.Reply("", errcode))

	// set framerate <Hz>
	//     errcodes: 1 -> cannot set framerate value
	case "framerate":
		if cmd.NumArgs() != 1 {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		v, err := strconv.ParseFloat(cmd.Args[0], 32)
		if err != nil || v < 0 {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		s.send(msg.Ack(dcp.AckOk))

		errcode := 0
		if err := s.rec.SetAttribute("FrameRate", cmd.Args[0]); err != nil {
			errcode = 1
		}
		s.send(msg.Reply("", errcode))

	// set verbose ( true | false )
	case "verbose":
		if cmd.NumArgs() != 1 {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		var verbose bool
		switch cmd.Args[0] {
		case "true", "1":
			verbose = true
		case "false", "0":
			verbose = false
		default:
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		s.send(msg.Ack(dcp.AckOk))
		s.SetVerbose(verbose)
		s.send(msg.Reply("", 0))

	// set pvattr <name> [<value>]
	//     errcodes: 1 -> cannot set attribute
	case "pvattr":
		if cmd.NumArgs() < 1 || cmd.NumArgs() > 2 {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		s.send(msg.Ack(dcp.AckOk))

		value := ""
		if cmd.NumArgs() == 2 {
			value = cmd.Args[1]
		}
		errcode := 0
		if err := s.rec.SetAttribute(cmd.Args[0], value); err != nil {
			errcode = 1
		}
		s.send(msg.Reply("", errcode))

	// set writeframes <count> [<stepping>]
	//     arms the FITS writer for the next frames; count 0 disarms
	case "writeframes":
		if cmd.NumArgs() < 1 || cmd.NumArgs() > 2 {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		count, err := strconv.Atoi(cmd.Args[0])
		if err != nil || count < 0 {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		stepping := 1
		if cmd.NumArgs() == 2 {
			stepping, err = strconv.Atoi(cmd.Args[1])
			if err != nil || stepping < 1 {
				s.send(msg.Ack(dcp.AckParameterError))
				return
			}
		}
		s.send(msg.Ack(dcp.AckOk))
		s.writer.WriteNext(count, stepping)
		s.send(msg.Reply("", 0))

	default:
		s.send(msg.Ack(dcp.AckUnknownCommandError))
	}
}

func (s *Server) handleGet(msg dcp.Message, cmd dcp.Command) {
	// every get command except pvattr takes no arguments
	if cmd.Identifier != "pvattr" && cmd.HasArgs() {
		if isGetIdentifier(cmd.Identifier) {
			s.send(msg.Ack(dcp.AckParameterError))
		} else {
			s.send(msg.Ack(dcp.AckUnknownCommandError))
		}
		return
	}

	switch cmd.Identifier {

	// get camerastate
	//     returns: ( closed | opened | capturing )
	case "camerastate":
		s.send(msg.Ack(dcp.AckOk))
		s.send(msg.Reply(s.cameraState(), 0))

	// get exposure
	//     returns: <usecs>
	case "exposure":
		s.send(msg.Ack(dcp.AckOk))
		v, err := s.rec.Attribute("ExposureValue")
		if err != nil {
			s.send(msg.Reply("", 1))
			return
		}
		s.send(msg.Reply(v.Text(), 0))

	// get framerate
	//     returns: <Hz>
	case "framerate":
		s.send(msg.Ack(dcp.AckOk))
		v, err := s.rec.Attribute("FrameRate")
		if err != nil {
			s.send(msg.Reply("", 1))
			return
		}
		if f, ok := v.Float32(); ok {
			s.send(msg.Reply(strconv.FormatFloat(float64(f), 'f', 3, 32), 0))
			return
		}
		s.send(msg.Reply("", 1))

	// get framestats
	//     returns: <fps> <completed> <dropped>
	case "framestats":
		s.send(msg.Ack(dcp.AckOk))
		st, err := s.rec.FrameStats()
		if err != nil {
			s.send(msg.Reply("", 1))
			return
		}
		s.send(msg.Reply(fmt.Sprintf("%.3f %d %d", st.FPS, st.Completed, st.Dropped), 0))

	// get verbose
	//     returns: ( true | false )
	case "verbose":
		s.send(msg.Ack(dcp.AckOk))
		s.send(msg.Reply(strconv.FormatBool(s.Verbose()), 0))

	// get version
	//     returns: <server version>
	case "version":
		s.send(msg.Ack(dcp.AckOk))
		s.send(msg.Reply(Version, 0))

	// get pvversion
	//     returns: <driver library version>
	case "pvversion":
		s.send(msg.Ack(dcp.AckOk))
		s.send(msg.Reply(s.PvVersion, 0))

	// get pvattr <name>
	case "pvattr":
		if cmd.NumArgs() != 1 {
			s.send(msg.Ack(dcp.AckParameterError))
			return
		}
		s.send(msg.Ack(dcp.AckOk))
		v, err := s.rec.Attribute(cmd.Args[0])
		if err != nil {
			s.send(msg.Reply("", 1))
			return
		}
		s.send(msg.Reply(v.Text(), 0))

	// get streamclients
	//     returns: the connected streaming clients
	case "streamclients":
		s.send(msg.Ack(dcp.AckOk))
		s.send(msg.Reply(strings.Join(s.streamer.Connections(), " "), 0))

	default:
		s.send(msg.Ack(dcp.AckUnknownCommandError))
	}
}

func (s *Server) cameraState() string {
	if !s.rec.IsCameraOpen() {
		return "closed"
	}
	if s.rec.IsRunning() {
		return "capturing"
	}
	return "opened"
}

func isGetIdentifier(id string) bool {
	switch id {
	case "camerastate", "exposure", "framerate", "framestats", "verbose",
		"version", "pvversion", "pvattr", "streamclients":
		return true
	}
	return false
}
