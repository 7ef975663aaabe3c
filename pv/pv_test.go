package pv

import (
	"strings"
	"testing"
)

func TestErrorNilOnSuccess(t *testing.T) {
	if err := Error(ErrSuccess); err != nil {
		t.Errorf("expected nil for ePvErrSuccess, got %v", err)
	}
	if err := Error(ErrTimeout); err == nil {
		t.Error("expected non-nil for ePvErrTimeout")
	}
}

func TestErrCodeStrings(t *testing.T) {
	cases := []struct {
		code   ErrCode
		symbol string
		msg    string
	}{
		{ErrSuccess, "ePvErrSuccess", "No error"},
		{ErrCancelled, "ePvErrCancelled", "Frame cancelled by user"},
		{ErrDataMissing, "ePvErrDataMissing", "Some data in the frame is missing"},
		{ErrFirewall, "ePvErrFirewall", "A firewall is blocking the traffic"},
	}
	for _, c := range cases {
		if got := c.code.String(); got != c.symbol {
			t.Errorf("String(%d): got %s, want %s", int(c.code), got, c.symbol)
		}
		if got := c.code.Message(); got != c.msg {
			t.Errorf("Message(%d): got %s, want %s", int(c.code), got, c.msg)
		}
	}
}

func TestErrCodeOutOfRange(t *testing.T) {
	e := ErrCode(99)
	if e.Message() != "Unknown error" {
		t.Errorf("expected Unknown error, got %s", e.Message())
	}
}

func TestFormatError(t *testing.T) {
	got := FormatError("Cannot enqueue frame.", ErrQueueFull)
	want := "Cannot enqueue frame. PvApi: Too many frames on queue. [ePvErrQueueFull]"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTimestamp(t *testing.T) {
	// hi=1, lo=0, freq=1MHz, scale=1e6 => one full low-word rollover in us
	got := Timestamp(1, 0, 1000000, 1e6)
	if got != 4294967295 {
		t.Errorf("got %d, want 4294967295", got)
	}
}

func TestTimestampZeroFreq(t *testing.T) {
	// a device reporting freq 0 must not divide by zero; freq is clamped to 1
	got := Timestamp(0, 1000, 0, 1.0)
	if got != 1000 {
		t.Errorf("got %d, want 1000", got)
	}
}

func TestParseValueRoundTrips(t *testing.T) {
	cases := []struct {
		dt   Datatype
		text string
	}{
		{DatatypeString, "Mono16"},
		{DatatypeEnum, "FixedRate"},
		{DatatypeUint32, "10000"},
		{DatatypeInt64, "-42"},
		{DatatypeBoolean, "true"},
	}
	for _, c := range cases {
		v, err := ParseValue(c.dt, c.text)
		if err != nil {
			t.Fatalf("ParseValue(%s, %q): %v", c.dt, c.text, err)
		}
		if v.Kind() != c.dt {
			t.Errorf("kind: got %s, want %s", v.Kind(), c.dt)
		}
		if got := v.Text(); got != c.text {
			t.Errorf("round trip: got %q, want %q", got, c.text)
		}
	}
}

func TestParseValueFloat(t *testing.T) {
	v, err := ParseValue(DatatypeFloat32, "12.5")
	if err != nil {
		t.Fatal(err)
	}
	f, ok := v.Float32()
	if !ok || f != 12.5 {
		t.Errorf("got %v (ok=%v), want 12.5", f, ok)
	}
}

func TestParseValueRejectsBadInput(t *testing.T) {
	if _, err := ParseValue(DatatypeUint32, "-1"); err == nil {
		t.Error("expected error for negative uint32")
	}
	if _, err := ParseValue(DatatypeBoolean, "maybe"); err == nil {
		t.Error("expected error for bad boolean")
	}
	if _, err := ParseValue(DatatypeCommand, "x"); err == nil {
		t.Error("expected error for command datatype")
	}
}

func TestValueZero(t *testing.T) {
	var v Value
	if v.IsValid() {
		t.Error("zero Value must be invalid")
	}
	if v.Text() != "" {
		t.Errorf("zero Value text: got %q", v.Text())
	}
}

func TestInfoString(t *testing.T) {
	ci := CameraInfo{
		UniqueID:     102380,
		ModelName:    "GE1350",
		SensorWidth:  1360,
		SensorHeight: 1024,
		SensorBits:   12,
	}
	s := ci.InfoString()
	for _, want := range []string{"UniqueId .......... 102380", "Sensor ............ 1360x1024@12"} {
		if !strings.Contains(s, want) {
			t.Errorf("info string missing %q:\n%s", want, s)
		}
	}
}
