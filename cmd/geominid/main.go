package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/fx"

	"github.com/Ryfis/geo-mini/internal/config"
	"github.com/Ryfis/geo-mini/internal/daemon"
	"github.com/Ryfis/geo-mini/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	configFlag := flag.String("config", "", "config file path (default ~/.geomini/config.toml)")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = session.ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config %s: %v\n", configPath, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile, Config: cfg}),
	)

	app.Run()
}
