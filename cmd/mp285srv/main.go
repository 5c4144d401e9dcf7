// mp285srv exposes a Sutter MP-285 micromanipulator over HTTP
package main

import (
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	chimiddleware "github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/phsym/console-slog"

	yml "gopkg.in/yaml.v2"

	"github.com/photonbench/sutter/mp285"
	"github.com/photonbench/sutter/server/middleware/locker"
	"github.com/photonbench/sutter/server/middleware/throttle"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "mp285srv.yml"
	k              = koanf.New(".")
)

// Config holds the complete description of one server process
type Config struct {
	// Addr is the address:port to bind the HTTP server to, e.g. ":8001"
	Addr string `koanf:"addr"`

	// Device is the serial port (COM3, /dev/ttyUSB0) or, when Serial is
	// false, the host:port of a terminal server fronting the controller
	Device string `koanf:"device"`

	// Serial selects a direct serial cable over a terminal server
	Serial bool `koanf:"serial"`

	// MoveTimeoutSec is how many seconds a move may take before the server
	// gives up on it
	MoveTimeoutSec int `koanf:"moveTimeoutSec"`

	// MaxRPS throttles requests to protect the 9600 baud link
	MaxRPS float64 `koanf:"maxRps"`

	// Mock runs against a simulated controller instead of hardware
	Mock bool `koanf:"mock"`

	// Verbose enables debug-level command traces
	Verbose bool `koanf:"verbose"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:           ":8001",
		Device:         "/dev/ttyUSB0",
		Serial:         true,
		MoveTimeoutSec: 30,
		MaxRPS:         10}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `mp285srv communicates with a Sutter MP-285 micromanipulator and exposes
an HTTP interface to it.  This enables a server-client architecture, and
the clients can leverage the excellent HTTP libraries for any programming
language.

Usage:
	mp285srv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `mp285srv is amenable to configuration via its .yaml file.  For a primer on
YAML, see https://yaml.org/start.html

The controller is reached either over a direct serial cable (serial: true,
device is the port) or through a terminal server (serial: false, device is
host:port).  The MP-285 always runs its RS-232 port at 9600 baud, 8N1.

Endpoints:
	GET  /position              stage position in micrometers
	POST /position              absolute move, body {"x":..,"y":..,"z":..};
	                            responds with the elapsed seconds
	GET  /axis/{axis}/pos       one axis of the position
	POST /axis/{axis}/pos       single-axis move; ?relative=true for relative
	POST /axis/{axis}/home      move one axis to the origin
	GET  /status                decoded controller status
	GET  /move-elapsed          seconds the last completed move took
	GET  /velocity              velocity in microsteps per second
	POST /velocity              body {"velocity":..,"resolution":10|50}
	POST /origin                make the current position the origin
	POST /panel                 refresh the front panel readout
	POST /reset                 restart the controller
	GET/POST /lock              reserve the hardware for one operator

While locked, all other endpoints return 423.  Requests beyond maxRps
return 429; the serial link runs at 9600 baud and cannot absorb a flood.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("mp285srv version %v\n", Version)
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(console.NewHandler(os.Stderr, &console.HandlerOptions{Level: level}))

	var dev *mp285.MP285
	if c.Mock {
		dev = mp285.NewMock()
	} else {
		dev = mp285.New(c.Device, c.Serial)
	}
	dev.MoveTimeout = time.Duration(c.MoveTimeoutSec) * time.Second
	dev.SetLogger(logger)
	if err := dev.Connect(); err != nil {
		logger.Error("controller initialization failed", "err", err)
		os.Exit(1)
	}
	defer dev.Close()

	wrapper := mp285.NewHTTPWrapper(dev)
	lock := locker.New()
	locker.Inject(wrapper, lock)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(throttle.New(c.MaxRPS, 5).Check)
	r.Use(lock.Check)
	wrapper.RT().Bind(r)

	logger.Info("now listening for requests", "addr", c.Addr, "device", c.Device, "mock", c.Mock)
	if err := http.ListenAndServe(c.Addr, r); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
