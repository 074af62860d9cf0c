package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

var (
	VERSION = ""
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("otterctl failed")
		os.Exit(1)
	}
}
