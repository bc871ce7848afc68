package main

import (
	"os"

	"github.com/rs/zerolog"

	"inkwell/internal/config"
)

var (
	cfg    config.Config
	logger zerolog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
