package main

import (
	"log"
	"os"

	"github.com/openaudit/chronolog/internal/cli"
)

func main() {
	log.SetFlags(log.LstdFlags)
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Printf("[CLI] %v", err)
		os.Exit(1)
	}
}
