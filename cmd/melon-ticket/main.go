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
	"melon-ticket/internal/gui"
	"melon-ticket/internal/services"
)

func main() {
	flagSet := pflag.NewFlagSet("melon-ticket", pflag.ContinueOnError)
	mode := flagSet.String("mode", "gui", "run mode: 'gui' or 'cli'")
	configPath := flagSet.String("config", config.DefaultPath, "settings file (.json or .toml)")
	historyPath := flagSet.String("history", services.DefaultHistoryPath, "booking history file")
	preLogin := flagSet.Bool("pre-login", false, "log in before the run starts (cli mode)")
	headless := flagSet.Bool("headless", false, "hide the browser window (cli mode)")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: melon-ticket [--mode gui|cli] [options]\n\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	switch *mode {
	case "gui":
		coord := services.NewCoordinator()
		coord.History = services.NewHistory(*historyPath)
		gui.NewGUI(coord, *configPath).Run()

	case "cli":
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err := cli.Run(ctx, cli.Options{
			ConfigPath:  *configPath,
			HistoryPath: *historyPath,
			PreLogin:    *preLogin,
			Headless:    *headless,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			stop()
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "invalid mode %q (use 'gui' or 'cli')\n", *mode)
		os.Exit(2)
	}
}
