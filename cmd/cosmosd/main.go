package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/Osvaldoduarte/cosmos-copilot/internal/config"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/daemon"
	"github.com/Osvaldoduarte/cosmos-copilot/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", session.ConfigPath(), "path to config.toml")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	sessionName := session.Resolve(*sessionFlag, cfg.DefaultSession)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			SessionName: sessionName,
			Program:     "cosmosd",
			Config:      cfg,
		}),
	)

	app.Run()
}
