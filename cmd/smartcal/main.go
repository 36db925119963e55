package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/guilherme-santos/smartcal/internal/config"
)

type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, a *app, args []string) error
}

var commands = []Command{
	ConfigureCommand,
	CalendarsCommand,
	ParseCommand,
	ConfirmCommand,
	SyncCommand,
	CancelCommand,
	MaintainCommand,
}

func main() {
	var (
		cfgFilename string
		verbose     bool
	)
	flag.StringVar(&cfgFilename, "config", config.DefaultFilename, "configuration file")
	flag.BoolVar(&verbose, "verbose", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := findCommand(flag.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgFilename)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unable to load config:", err)
		os.Exit(1)
	}
	if verbose {
		cfg.Log.Verbose = true
	}

	a, err := newApp(cfg, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Unable to start:", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := cmd.Run(ctx, a, flag.Args()[1:]); err != nil {
		printError(os.Stderr, err)
		a.Close()
		os.Exit(1)
	}
}

func findCommand(name string) (Command, bool) {
	for _, cmd := range commands {
		if cmd.Name == name {
			return cmd, true
		}
	}
	return Command{}, false
}

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "Usage of %s [options] <command> [command options]:\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", cmd.Name, cmd.Description)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	flag.PrintDefaults()
}
