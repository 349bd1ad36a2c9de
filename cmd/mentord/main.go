package main

import (
	"fmt"
	"os"

	"github.com/mentorchat/mentorchat/internal/config"
	"github.com/mentorchat/mentorchat/internal/hub"
	"go.uber.org/fx"
)

func main() {
	cfg, err := config.LoadHub()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		hub.Module(cfg),
	)

	app.Run()
}
