package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/slotrace/internal/racesim"
)

// Default configuration constants.
const (
	defaultStreams  = 3
	defaultSlots    = 100
	defaultInterval = 50 * time.Millisecond
	defaultTimeout  = 2 * time.Minute
)

func main() {
	var (
		streams  = flag.String("streams", "", "Comma separated profiles name:base[:jitter[:drop[:fail_every]]]")
		slots    = flag.Int("slots", defaultSlots, "Races to decide")
		interval = flag.Duration("interval", defaultInterval, "Simulated slot time")
		rolling  = flag.Bool("rolling", false, "Race until -timeout with a rolling window")
		partial  = flag.String("partial", "count", "count or exclude incomplete races")
		timeout  = flag.Duration("timeout", defaultTimeout, "Hard stop")
		output   = flag.String("output", "", "Write results as JSON to this file")
		verbose  = flag.Bool("verbose", false, "Log every race")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		racesim.ShowHelp(os.Stdout)
		return
	}

	if err := racesim.SetupLogging(os.Stderr, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	profiles := racesim.DefaultProfiles(defaultStreams)
	if *streams != "" {
		var err error
		if profiles, err = racesim.ParseProfiles(*streams); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(2)
		}
	}

	cfg := &racesim.Config{
		Profiles:     profiles,
		Slots:        *slots,
		SlotInterval: *interval,
		Rolling:      *rolling,
		Partial:      *partial,
		Timeout:      *timeout,
		OutputFile:   *output,
		Verbose:      *verbose,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := racesim.Run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Race failed: %v\n", err)
		stop()
		os.Exit(1)
	}

	_, _ = res.Summary.WriteTo(os.Stdout)
	fmt.Fprintf(os.Stdout, "run %s took %s\n", res.RunID, res.Duration.Round(time.Millisecond))

	if cfg.OutputFile != "" {
		path, err := racesim.SaveJSON(cfg.OutputFile, res)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to save results: %v\n", err)
		} else {
			fmt.Fprintf(os.Stdout, "results saved to %s\n", path)
		}
	}

	if err := racesim.Verify(res, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}
