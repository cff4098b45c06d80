package main

import (
	"flag"
	"log"

	"github.com/Tek-Fly/ide-mesh-suite/internal/config"
)

func main() {
	kind := flag.String("kind", "mesh", "config kind: mesh")
	output := flag.String("output", "cmd/meshctl/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to output path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = *output
		}
		if _, err := config.LoadMeshConfig(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
