package dcp

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

func TestMessageRoundTrip(t *testing.T) {
	m := Message{Flags: 0, Source: "opcon", Dest: "sjcam", Data: "set exposure 10000"}
	got, err := ParseMessage(m.Encode() + "\n")
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if got != m {
		t.Fatalf("round trip = %+v, want %+v", got, m)
	}
}

func TestParseMessageErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"0 a b",
		"x opcon sjcam set nop",
		"-1 opcon sjcam set nop",
	} {
		if _, err := ParseMessage(line); err == nil {
			t.Errorf("ParseMessage(%q) succeeded, want error", line)
		}
	}
}

func TestAckAndReply(t *testing.T) {
	cmd := Message{Source: "opcon", Dest: "sjcam", Data: "get camerastate"}

	ack := cmd.Ack(AckOk)
	if !ack.IsReply() || ack.Flags&UrgentFlag == 0 {
		t.Fatalf("ack flags = %d, want reply|urgent", ack.Flags)
	}
	if ack.Source != "sjcam" || ack.Dest != "opcon" {
		t.Fatalf("ack addressing = %s -> %s, want sjcam -> opcon", ack.Source, ack.Dest)
	}
	if ack.Data != "0 ACK" {
		t.Fatalf("ack data = %q, want %q", ack.Data, "0 ACK")
	}

	rep := cmd.Reply("capturing", 0)
	if !rep.IsReply() {
		t.Fatal("reply message is not flagged as a reply")
	}
	if rep.Data != "0 capturing" {
		t.Fatalf("reply data = %q, want %q", rep.Data, "0 capturing")
	}

	fin := cmd.Reply("", 1)
	if fin.Data != "1 FIN" {
		t.Fatalf("empty reply data = %q, want %q", fin.Data, "1 FIN")
	}
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		data string
		want Reply
	}{
		{"0 ACK", Reply{Code: 0, Ack: true}},
		{"3 ACK", Reply{Code: 3, Ack: true}},
		{"0 FIN", Reply{Code: 0}},
		{"1 FIN", Reply{Code: 1}},
		{"0 capturing", Reply{Code: 0, Payload: "capturing"}},
		{"0 1.4.2", Reply{Code: 0, Payload: "1.4.2"}},
	}
	for _, tt := range tests {
		got, err := ParseReply(tt.data)
		if err != nil {
			t.Errorf("ParseReply(%q): %v", tt.data, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseReply(%q) = %+v, want %+v", tt.data, got, tt.want)
		}
	}
	if _, err := ParseReply("nope"); err == nil {
		t.Error("ParseReply with bad code succeeded, want error")
	}
}

func TestParseCommand(t *testing.T) {
	c, err := ParseCommand("set pvattr ExposureValue 10000")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if c.Type != SetCmd || c.Identifier != "pvattr" || c.NumArgs() != 2 {
		t.Fatalf("parsed command = %+v", c)
	}

	c, err = ParseCommand("get camerastate")
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	if c.Type != GetCmd || c.Identifier != "camerastate" || c.HasArgs() {
		t.Fatalf("parsed command = %+v", c)
	}

	for _, data := range []string{"", "set", "put camerastate"} {
		if _, err := ParseCommand(data); err == nil {
			t.Errorf("ParseCommand(%q) succeeded, want error", data)
		}
	}
}

func TestClientRegistersAndReceives(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	c := NewClient(ln.Addr().String(), "sjcam")
	c.Start()
	defer c.Close()

	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sc := bufio.NewScanner(conn)
	if !sc.Scan() {
		t.Fatalf("no registration line: %v", sc.Err())
	}
	reg, err := ParseMessage(sc.Text())
	if err != nil {
		t.Fatalf("registration line: %v", err)
	}
	if reg.Source != "sjcam" || !strings.HasPrefix(reg.Data, "register") {
		t.Fatalf("unexpected registration %+v", reg)
	}

	cmd := Message{Source: "opcon", Dest: "sjcam", Data: "set nop"}
	if _, err := conn.Write([]byte(cmd.Encode() + "\n")); err != nil {
		t.Fatalf("write command: %v", err)
	}
	select {
	case got := <-c.Messages():
		if got != cmd {
			t.Fatalf("received %+v, want %+v", got, cmd)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command never delivered")
	}

	rep := cmd.Reply("", 0)
	if err := c.Send(rep); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !sc.Scan() {
		t.Fatalf("no reply line: %v", sc.Err())
	}
	if sc.Text() != rep.Encode() {
		t.Fatalf("reply line = %q, want %q", sc.Text(), rep.Encode())
	}
}

func TestClientReconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	c := NewClient(ln.Addr().String(), "sjcam")
	c.Start()
	defer c.Close()

	first, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	first.Close()

	second, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept after drop: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(5 * time.Second))
	sc := bufio.NewScanner(second)
	if !sc.Scan() {
		t.Fatalf("no registration after reconnect: %v", sc.Err())
	}
	reg, err := ParseMessage(sc.Text())
	if err != nil || reg.Source != "sjcam" {
		t.Fatalf("bad registration after reconnect: %v %+v", err, reg)
	}
}
