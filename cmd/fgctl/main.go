// Command fgctl talks to a running simulator over its props (telnet)
// interface: read and write property values, freeze and resume the
// simulation, and switch autopilot modes.
//
// Usage:
//
//	fgctl [flags] get <property>
//	fgctl [flags] set <property> <value>
//	fgctl [flags] pause|resume|reset
//	fgctl [flags] mode heading|wings-level|altitude|flightpath|velocity|acceleration|landing|align|hold
//
// Flags:
//
//	-host     Simulator host (default: localhost)
//	-port     Props interface port (default: 5420)
//	-timeout  Connection timeout (default: 5s)
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/laminar-data/fgbridge/internal/telnet"
)

var (
	host    = flag.String("host", "localhost", "Simulator host")
	port    = flag.Int("port", 5420, "Props interface port")
	timeout = flag.Duration("timeout", 5*time.Second, "Connection timeout")
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fgctl [flags] get|set|pause|resume|reset|mode ...")
	flag.PrintDefaults()
	os.Exit(2)
}

func run(c *telnet.Client, args []string) error {
	switch args[0] {
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("get takes exactly one property path")
		}
		value, err := c.Get(args[1])
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil

	case "set":
		if len(args) != 3 {
			return fmt.Errorf("set takes a property path and a value")
		}
		return c.Set(args[1], args[2])

	case "pause":
		return c.Pause()
	case "resume":
		return c.Resume()
	case "reset":
		return c.Reset()

	case "mode":
		if len(args) != 2 {
			return fmt.Errorf("mode takes exactly one mode name")
		}
		return setMode(c, args[1])

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func setMode(c *telnet.Client, mode string) error {
	switch mode {
	case "heading":
		return c.ControlHeading()
	case "wings-level":
		return c.WingsLevel()
	case "altitude":
		return c.ControlAltitude()
	case "flightpath":
		return c.ControlFlightPath()
	case "velocity":
		return c.ControlVelocity()
	case "acceleration":
		return c.ControlAcceleration()
	case "landing":
		return c.LandingMode()
	case "align":
		return c.AlignMode()
	case "hold":
		return c.HoldMode()
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c, err := telnet.Dial(ctx, *host, *port, telnet.DialOptions{})
	if err != nil {
		log.Fatalf("failed to connect to %s:%d: %v", *host, *port, err)
	}
	defer c.Close()

	if err := run(c, args); err != nil {
		log.Fatalf("fgctl: %v", err)
	}
}
