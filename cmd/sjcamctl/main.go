// Command sjcamctl sends one control command to a camera server and prints
// the reply.  The process exit code is the reply's error code.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/theckman/yacspin"

	"github.com/kbg/sjcam/dcp"
)

const clientName = "sjcamctl"

func usage() {
	fmt.Fprintln(os.Stderr, `usage: sjcamctl [flags] <set|get> <identifier> [args...]

Flags:
	-s <host:port>  control protocol server (default localhost:2001)
	-n <name>       target device name (default sjcam)
	-t <timeout>    reply timeout (default 5s)

Examples:
	sjcamctl get camerastate
	sjcamctl set exposure 20000
	sjcamctl -n sjcam2 set camera open`)
	os.Exit(2)
}

func main() {
	addr := "localhost:2001"
	device := "sjcam"
	timeout := 5 * time.Second

	args := os.Args[1:]
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		if len(args) < 2 {
			usage()
		}
		switch args[0] {
		case "-s":
			addr = args[1]
		case "-n":
			device = args[1]
		case "-t":
			d, err := time.ParseDuration(args[1])
			if err != nil {
				usage()
			}
			timeout = d
		default:
			usage()
		}
		args = args[2:]
	}
	if len(args) < 2 || (args[0] != "set" && args[0] != "get") {
		usage()
	}

	msg := dcp.Message{
		Source: clientName,
		Dest:   device,
		Data:   strings.Join(args, " "),
	}

	reply, err := sendCommand(addr, msg, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sjcamctl: %v\n", err)
		os.Exit(1)
	}
	if reply.Payload != "" {
		fmt.Println(reply.Payload)
	}
	os.Exit(reply.Code)
}

// sendCommand delivers the command and waits for the acknowledgement and
// the final reply.  A rejected acknowledgement is reported as an error.
func sendCommand(addr string, msg dcp.Message, timeout time.Duration) (dcp.Reply, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return dcp.Reply{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(timeout))

	reg := dcp.Message{
		Flags:  dcp.UrgentFlag,
		Source: clientName,
		Dest:   "dcpd",
		Data:   "register " + clientName,
	}
	if _, err := fmt.Fprintf(conn, "%s\n%s\n", reg.Encode(), msg.Encode()); err != nil {
		return dcp.Reply{}, err
	}

	spinner, _ := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[14],
		Suffix:          " " + msg.Data,
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopFailMessage: "no reply",
	})
	if spinner != nil {
		spinner.Start()
		defer spinner.Stop()
	}

	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		m, err := dcp.ParseMessage(sc.Text())
		if err != nil || !m.IsReply() || m.Source != msg.Dest {
			continue
		}
		r, err := dcp.ParseReply(m.Data)
		if err != nil {
			return dcp.Reply{}, fmt.Errorf("malformed reply %q", m.Data)
		}
		if r.Ack {
			if r.Code != dcp.AckOk {
				return dcp.Reply{}, fmt.Errorf("command rejected: %s", ackText(r.Code))
			}
			continue
		}
		return r, nil
	}
	if err := sc.Err(); err != nil {
		if spinner != nil {
			spinner.StopFail()
		}
		return dcp.Reply{}, err
	}
	return dcp.Reply{}, fmt.Errorf("connection closed before the reply arrived")
}

func ackText(code int) string {
	switch code {
	case dcp.AckUnknownCommandError:
		return "unknown command"
	case dcp.AckParameterError:
		return "parameter error"
	case dcp.AckWrongModeError:
		return "wrong mode"
	}
	return fmt.Sprintf("ack code %d", code)
}
