// Command exoctl is a thin CLI wrapper over exosyscall, for manual
// smoke checks and CI use against a kernel.Context built from a TOML
// boot configuration file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/arclight-os/exocore/arbitrate"
	"github.com/arclight-os/exocore/bootcfg"
	"github.com/arclight-os/exocore/exosyscall"
	"github.com/arclight-os/exocore/formatter"
	"github.com/arclight-os/exocore/kernel"
	"github.com/sirupsen/logrus"
)

// Exit codes per the wire spec: 0 success, nonzero on an -EINVAL
// equivalent or a capability verification failure.
const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("exoctl", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "path to the TOML boot configuration file")
	cmd := fs.String("cmd", "alloc-page", "command to run: alloc-page, ioports, gas")
	owner := fs.Uint("owner", 1, "owning principal id")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if *cfgPath == "" {
		fmt.Fprintln(os.Stderr, "exoctl: -config is required")
		return exitFailure
	}

	cfg, err := bootcfg.Load(*cfgPath)
	if err != nil {
		logrus.WithError(err).Error("exoctl: loading boot configuration")
		return exitFailure
	}

	ctx, err := kernel.NewContext(cfg)
	if err != nil {
		logrus.WithError(err).Error("exoctl: building kernel context")
		return exitFailure
	}
	defer ctx.Close()

	policy := func(t *arbitrate.Table, typ, resourceID, currentOwner, newOwner uint32) bool {
		return false // exoctl never displaces a live owner; it only pre-seeds and reports
	}
	if err := ctx.Bootstrap(policy); err != nil {
		logrus.WithError(err).Error("exoctl: bootstrap failed")
		return exitFailure
	}

	surface := exosyscall.NewSurface(ctx)

	switch *cmd {
	case "alloc-page":
		return runAllocPage(surface, uint32(*owner))
	case "ioports":
		return runIOPorts(surface, uint32(*owner))
	case "gas":
		return runGas(surface, uint32(*owner))
	default:
		fmt.Fprintf(os.Stderr, "exoctl: unknown command %q\n", *cmd)
		return exitFailure
	}
}

func runAllocPage(s *exosyscall.Surface, owner uint32) int {
	c, err := s.ExoAllocPage(0, owner)
	if err != nil {
		logrus.WithError(err).Error("exoctl: alloc-page failed")
		return exitFailure
	}
	fmt.Printf("allocated page capability id=%s\n", formatter.CapID{ID: c.ID})
	return exitSuccess
}

func runIOPorts(s *exosyscall.Surface, owner uint32) int {
	c, err := s.ExoAllocIOPort(0x3f8, owner)
	if err != nil {
		logrus.WithError(err).Error("exoctl: alloc-ioport failed")
		return exitFailure
	}
	fmt.Printf("allocated ioport capability id=%s\n", formatter.CapID{ID: c.ID})
	return exitSuccess
}

func runGas(s *exosyscall.Surface, owner uint32) int {
	s.SetGas(owner, 1000)
	fmt.Printf("owner=%d gas=%d\n", owner, s.GetGas(owner))
	return exitSuccess
}
