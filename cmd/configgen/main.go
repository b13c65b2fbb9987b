package main

import (
	"flag"
	"log"

	"github.com/danmuck/runnersync/internal/config"
)

func main() {
	kind := flag.String("kind", "runner", "template kind: runner|env")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing runner-sync.toml")
	input := flag.String("input", config.DefaultConfigFile, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if _, err := config.LoadFile(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated config at %s", *input)
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "runner", "":
			target = config.DefaultConfigFile
		case "env":
			target = config.DotEnvFile
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
