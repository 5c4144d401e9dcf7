// mp285ctl drives a Sutter MP-285 micromanipulator from the command line
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/theckman/yacspin"

	"github.com/photonbench/sutter/mp285"
)

const usage = `mp285ctl drives a Sutter MP-285 micromanipulator from the command line.

Usage:
	mp285ctl [flags] <command> [args]

Commands:
	pos                 print the stage position in micrometers
	goto <x> <y> <z>    absolute move, micrometers
	vel [v] [res]       print or set the velocity; res is 10 or 50
	origin              make the current position the origin
	panel               refresh the front panel readout
	reset               restart the controller
	status              print the decoded controller status

Flags:`

func main() {
	device := flag.String("device", "/dev/ttyUSB0", "serial port, or host:port with -tcp")
	tcp := flag.Bool("tcp", false, "reach the controller through a terminal server")
	moveTimeout := flag.Duration("move-timeout", mp285.DefaultMoveTimeout, "how long a move may take")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	dev := mp285.New(*device, !*tcp)
	dev.MoveTimeout = *moveTimeout
	defer dev.Close()
	if err := dev.Connect(); err != nil {
		log.Fatal(err)
	}

	switch args[0] {
	case "pos":
		pos, err := dev.GetPosition()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("x %.2f  y %.2f  z %.2f um\n", pos.X, pos.Y, pos.Z)
	case "goto":
		if len(args) != 4 {
			log.Fatal("goto needs three coordinates, e.g. mp285ctl goto 100 250.5 0")
		}
		var target mp285.Position
		for i, dst := range []*float64{&target.X, &target.Y, &target.Z} {
			v, err := strconv.ParseFloat(args[1+i], 64)
			if err != nil {
				log.Fatalf("bad coordinate %q: %v", args[1+i], err)
			}
			*dst = v
		}
		elapsed, err := move(dev, target)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("moved to (%.2f, %.2f, %.2f) in %.2fs\n", target.X, target.Y, target.Z, elapsed.Seconds())
	case "vel":
		if len(args) == 1 {
			status, err := dev.GetStatus()
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("%d usteps/s at %d usteps/step\n", status.Velocity, status.Resolution)
			return
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("bad velocity %q: %v", args[1], err)
		}
		res := mp285.ResolutionCoarse
		if len(args) > 2 {
			res, err = strconv.Atoi(args[2])
			if err != nil {
				log.Fatalf("bad resolution %q: %v", args[2], err)
			}
		}
		if err := dev.SetVelocity(v, res); err != nil {
			log.Fatal(err)
		}
	case "origin":
		if err := dev.SetOrigin(); err != nil {
			log.Fatal(err)
		}
	case "panel":
		if err := dev.UpdatePanel(); err != nil {
			log.Fatal(err)
		}
	case "reset":
		if err := dev.Reset(); err != nil {
			log.Fatal(err)
		}
	case "status":
		status, err := dev.GetStatus()
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("step multiplier  %d usteps/um\n", status.StepMul)
		fmt.Printf("step divisor     %d\n", status.StepDiv)
		fmt.Printf("velocity         %d usteps/s\n", status.Velocity)
		fmt.Printf("resolution       %d usteps/step\n", status.Resolution)
		fmt.Printf("firmware         v%.2f\n", float64(status.Firmware)/100)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// move runs a blocking move with a spinner, since full-travel moves can
// take tens of seconds
func move(dev *mp285.MP285, target mp285.Position) (time.Duration, error) {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[11],
		Suffix:          " moving",
		SuffixAutoColon: true,
		StopCharacter:   "done",
	}
	spinner, err := yacspin.New(cfg)
	if err == nil {
		spinner.Start()
		defer spinner.Stop()
	}
	return dev.GotoPosition(target)
}
