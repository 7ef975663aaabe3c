package sjcserver

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testConfig = `dcp:
  servername: ops01
  serverport: 3001
camera:
  uniqueid: 4660
  attr:
    PixelFormat: Mono12
streaming:
  maxfps: 5
verbose: true
`

func TestLoadConfigMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sjcamd.yml")
	if err := os.WriteFile(path, []byte(testConfig), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if c.Dcp.ServerName != "ops01" || c.Dcp.ServerPort != 3001 {
		t.Fatalf("dcp config = %+v", c.Dcp)
	}
	if c.Dcp.DeviceName != "sjcam" {
		t.Fatalf("device name default = %q, want sjcam", c.Dcp.DeviceName)
	}
	if c.Camera.UniqueID != 4660 {
		t.Fatalf("camera id = %d, want 4660", c.Camera.UniqueID)
	}
	if c.Camera.NumBuffers != 10 {
		t.Fatalf("num buffers default = %d, want 10", c.Camera.NumBuffers)
	}
	if c.Camera.Attr["PixelFormat"] != "Mono12" {
		t.Fatalf("camera attrs = %v", c.Camera.Attr)
	}
	if c.Streaming.MaxFPS != 5 || c.Streaming.ListenAddr != ":2201" {
		t.Fatalf("streaming config = %+v", c.Streaming)
	}
	if !c.Verbose {
		t.Fatal("verbose not set")
	}
	if c.Dcp.Addr() != "ops01:3001" {
		t.Fatalf("dcp addr = %q", c.Dcp.Addr())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("LoadConfig with missing file: %v", err)
	}
	if c.Dcp.ServerName != "localhost" || c.Dcp.ServerPort != 2001 {
		t.Fatalf("defaults not applied: %+v", c.Dcp)
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := DefaultConfig().WriteYAML(&buf); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"servername: localhost", "serverport: 2001", "numbuffers: 10"} {
		if !strings.Contains(out, want) {
			t.Fatalf("encoded config is missing %q:\n%s", want, out)
		}
	}
}
