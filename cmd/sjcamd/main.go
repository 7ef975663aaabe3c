//go:build cgo

// Command sjcamd is the camera server daemon.  It binds the configured GigE
// camera, connects to the control protocol server and serves live images
// and FITS recordings.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kbg/sjcam/httpd"
	"github.com/kbg/sjcam/pvapi"
	"github.com/kbg/sjcam/recorder"
	"github.com/kbg/sjcam/sjcserver"
)

// ConfigFileName is the default configuration file.
var ConfigFileName = "sjcamd.yml"

func root() {
	str := `sjcamd acquires images from a GigE camera and serves them to
operator clients: JPEG previews over the streaming port, FITS files on
disk, and a text control protocol for camera operations.

Usage:
	sjcamd <command> [flags]

Commands:
	run
	help
	mkconf
	conf
	version

Flags (run):
	-c <file>    configuration file (default sjcamd.yml)
	-s <host>    control protocol server name
	-p <port>    control protocol server port
	-n <name>    device name to register under
	-u <id>      camera unique id (0 takes the first master-access camera)
	-v           verbose output`
	fmt.Println(str)
}

func help() {
	str := `sjcamd reads its configuration from a YAML file; use mkconf to
write the built-in defaults to sjcamd.yml and conf to print the merged
configuration.

Command line flags override the corresponding file settings.

The camera is opened at startup with factory settings, the configured
attribute overrides and a fixed-rate trigger; capturing starts immediately
and runs until the daemon is stopped or an operator sends
"set capturing stop".`
	fmt.Println(str)
}

type options struct {
	configFile string
	serverName string
	serverPort int
	deviceName string
	cameraID   uint
	verbose    bool
	verboseSet bool
}

func parseFlags(args []string) options {
	fs := flag.NewFlagSet("sjcamd", flag.ExitOnError)
	opts := options{}
	fs.StringVar(&opts.configFile, "c", ConfigFileName, "configuration file")
	fs.StringVar(&opts.serverName, "s", "", "control protocol server name")
	fs.IntVar(&opts.serverPort, "p", 0, "control protocol server port")
	fs.StringVar(&opts.deviceName, "n", "", "device name")
	fs.UintVar(&opts.cameraID, "u", 0, "camera unique id")
	fs.BoolVar(&opts.verbose, "v", false, "verbose output")
	fs.Parse(args)
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "v" {
			opts.verboseSet = true
		}
	})
	return opts
}

func loadConfig(opts options) sjcserver.Config {
	cfg, err := sjcserver.LoadConfig(opts.configFile)
	if err != nil {
		log.Fatal(err)
	}
	if opts.serverName != "" {
		cfg.Dcp.ServerName = opts.serverName
	}
	if opts.serverPort != 0 && opts.serverPort <= 65535 {
		cfg.Dcp.ServerPort = opts.serverPort
	}
	if opts.deviceName != "" {
		cfg.Dcp.DeviceName = opts.deviceName
	}
	if opts.cameraID != 0 {
		cfg.Camera.UniqueID = uint32(opts.cameraID)
	}
	if opts.verboseSet {
		cfg.Verbose = opts.verbose
	}
	return cfg
}

func mkconf() {
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err := sjcserver.DefaultConfig().WriteYAML(f); err != nil {
		log.Fatal(err)
	}
}

func printconf(opts options) {
	cfg := loadConfig(opts)
	if err := cfg.WriteYAML(os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("sjcamd version %v\n", sjcserver.Version)
}

func run(opts options) {
	cfg := loadConfig(opts)

	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}

	if err := pvapi.Initialize(); err != nil {
		log.Fatal(err)
	}
	defer pvapi.Uninitialize()

	driver := pvapi.NewDriver()
	rec := recorder.New(driver, driver)
	srv := sjcserver.New(cfg, rec)
	srv.PvVersion = pvapi.Version()

	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}

	if cfg.HTTP.Addr != "" {
		go func() {
			log.Printf("HTTP diagnostics listening on %s.", cfg.HTTP.Addr)
			if err := http.ListenAndServe(cfg.HTTP.Addr, httpd.NewRouter(srv)); err != nil {
				log.Printf("Error: %v", err)
			}
		}()
	}

	if err := srv.OpenCamera(); err != nil {
		// the camera may come up later; operators can retry with
		// "set camera open"
		log.Printf("Error: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Printf("Received %v, shutting down.", s)
	srv.Stop()
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf(parseFlags(args[2:]))
	case "run":
		run(parseFlags(args[2:]))
	case "version":
		pversion()
	default:
		// allow "sjcamd -c file" without the run keyword
		if strings.HasPrefix(cmd, "-") {
			run(parseFlags(args[1:]))
			return
		}
		log.Fatal("unknown command")
	}
}
