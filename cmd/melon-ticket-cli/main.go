package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"melon-ticket/internal/cli"
	"melon-ticket/internal/config"
	"melon-ticket/internal/services"
)

func main() {
	var opts cli.Options
	flagSet := pflag.NewFlagSet("melon-ticket-cli", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.ConfigPath, "config", "c", config.DefaultPath, "settings file (.json or .toml)")
	flagSet.StringVar(&opts.HistoryPath, "history", services.DefaultHistoryPath, "booking history file")
	flagSet.BoolVar(&opts.PreLogin, "pre-login", false, "log in before the run starts")
	flagSet.BoolVar(&opts.Headless, "headless", false, "hide the browser window")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: melon-ticket-cli [options]\n\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
