/*Package dcp implements the text control protocol the camera server speaks
with its operator clients.

Messages are single ASCII lines:

	<flags> <source> <dest> <data...>\n

where flags is a small decimal bitmask, source and dest are device names and
everything after the third space is the message data.  A command message
carries "set ..." or "get ..." data; the receiver answers with an urgent
acknowledgement first ("<code> ACK") and a final reply ("<code> <payload>",
or "<code> FIN" when there is no payload).
*/
package dcp

import (
	"fmt"
	"strconv"
	"strings"
)

// Message flag bits.
const (
	ReplyFlag  = 0x1
	UrgentFlag = 0x2
)

// Acknowledgement codes.
const (
	AckOk                  = 0
	AckUnknownCommandError = 2
	AckParameterError      = 3
	AckWrongModeError      = 5
)

// Message is one protocol line.
type Message struct {
	Flags  int
	Source string
	Dest   string
	Data   string
}

// IsReply reports whether the message is an acknowledgement or final reply
// rather than a command.
func (m Message) IsReply() bool { return m.Flags&ReplyFlag != 0 }

// Ack builds the urgent acknowledgement for a received command.
func (m Message) Ack(code int) Message {
	return Message{
		Flags:  ReplyFlag | UrgentFlag,
		Source: m.Dest,
		Dest:   m.Source,
		Data:   strconv.Itoa(code) + " ACK",
	}
}

// Reply builds the final reply for a received command.  An empty payload is
// sent as "FIN".
func (m Message) Reply(payload string, code int) Message {
	if payload == "" {
		payload = "FIN"
	}
	return Message{
		Flags:  ReplyFlag,
		Source: m.Dest,
		Dest:   m.Source,
		Data:   strconv.Itoa(code) + " " + payload,
	}
}

// Encode renders the message as a protocol line without the trailing
// newline.
func (m Message) Encode() string {
	return fmt.Sprintf("%d %s %s %s", m.Flags, m.Source, m.Dest, m.Data)
}

// String renders the message for logs.
func (m Message) String() string { return m.Encode() }

// ParseMessage decodes one protocol line.
func ParseMessage(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 4)
	if len(parts) < 4 {
		return Message{}, fmt.Errorf("malformed message %q", line)
	}
	flags, err := strconv.Atoi(parts[0])
	if err != nil || flags < 0 {
		return Message{}, fmt.Errorf("malformed message flags %q", parts[0])
	}
	if parts[1] == "" || parts[2] == "" {
		return Message{}, fmt.Errorf("malformed message %q", line)
	}
	return Message{Flags: flags, Source: parts[1], Dest: parts[2], Data: parts[3]}, nil
}

// Reply is the decoded data of an acknowledgement or final reply.
type Reply struct {
	Code    int
	Payload string
	Ack     bool
}

// ParseReply decodes the data field of a reply message.  The "FIN" marker
// decodes to an empty payload.
func ParseReply(data string) (Reply, error) {
	parts := strings.SplitN(strings.TrimSpace(data), " ", 2)
	if len(parts) == 0 || parts[0] == "" {
		return Reply{}, fmt.Errorf("malformed reply %q", data)
	}
	code, err := strconv.Atoi(parts[0])
	if err != nil {
		return Reply{}, fmt.Errorf("malformed reply code %q", parts[0])
	}
	r := Reply{Code: code}
	if len(parts) == 2 {
		switch parts[1] {
		case "ACK":
			r.Ack = true
		case "FIN":
		default:
			r.Payload = parts[1]
		}
	}
	return r, nil
}
