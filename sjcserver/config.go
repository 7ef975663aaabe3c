package sjcserver

import (
	"fmt"
	"io"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"
)

// DcpConfig locates the control protocol server.
type DcpConfig struct {
	ServerName string `koanf:"servername" yaml:"servername"`
	ServerPort int    `koanf:"serverport" yaml:"serverport"`
	DeviceName string `koanf:"devicename" yaml:"devicename"`
}

// Addr renders the server address for dialing.
func (c DcpConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerName, c.ServerPort)
}

// CameraConfig selects and parameterizes the camera.
type CameraConfig struct {
	// UniqueID selects a specific camera; 0 takes the first one offering
	// master access.
	UniqueID uint32 `koanf:"uniqueid" yaml:"uniqueid"`

	NumBuffers int `koanf:"numbuffers" yaml:"numbuffers"`

	// Attr holds attribute settings applied after the defaults whenever
	// the camera is opened.
	Attr map[string]string `koanf:"attr" yaml:"attr"`
}

// StreamConfig configures the JPEG streaming server.
type StreamConfig struct {
	// ListenAddr is the streaming listen address; empty disables streaming.
	ListenAddr string  `koanf:"listenaddr" yaml:"listenaddr"`
	MaxFPS     float64 `koanf:"maxfps" yaml:"maxfps"`
	Scale      float64 `koanf:"scale" yaml:"scale"`
}

// WriterConfig configures the FITS writer.
type WriterConfig struct {
	Directory string `koanf:"directory" yaml:"directory"`
	Prefix    string `koanf:"prefix" yaml:"prefix"`
	Telescope string `koanf:"telescope" yaml:"telescope"`
}

// HTTPConfig configures the diagnostics HTTP server.
type HTTPConfig struct {
	// Addr is the HTTP listen address; empty disables the HTTP surface.
	Addr string `koanf:"addr" yaml:"addr"`
}

// Config is the complete server configuration.
type Config struct {
	Dcp       DcpConfig    `koanf:"dcp" yaml:"dcp"`
	Camera    CameraConfig `koanf:"camera" yaml:"camera"`
	Streaming StreamConfig `koanf:"streaming" yaml:"streaming"`
	Writer    WriterConfig `koanf:"writer" yaml:"writer"`
	HTTP      HTTPConfig   `koanf:"http" yaml:"http"`

	// LogFile, when set, sends the log to a rotating file instead of
	// stderr.
	LogFile string `koanf:"logfile" yaml:"logfile"`
	Verbose bool   `koanf:"verbose" yaml:"verbose"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Dcp: DcpConfig{
			ServerName: "localhost",
			ServerPort: 2001,
			DeviceName: "sjcam",
		},
		Camera: CameraConfig{
			NumBuffers: 10,
		},
		Streaming: StreamConfig{
			ListenAddr: ":2201",
		},
		Writer: WriterConfig{
			Directory: ".",
			Prefix:    "sjc",
		},
	}
}

// LoadConfig merges the file at path over the defaults.  A missing file is
// not an error; any other load failure is.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such") {
				return Config{}, fmt.Errorf("error loading config: %w", err)
			}
		}
	}
	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("error loading config: %w", err)
	}
	return c, nil
}

// WriteYAML renders the configuration as YAML.
func (c Config) WriteYAML(w io.Writer) error {
	return yml.NewEncoder(w).Encode(c)
}
