package main

import (
	"flag"
	"log"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cileserver/internal/config"
)

func main() {
	kind := flag.String("kind", "server", "config kind: server|client")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if err := validateFile(*kind, path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}

func defaultPath(kind string) string {
	switch kind {
	case "server":
		return "config/cileserver.toml"
	case "client":
		return "config/cilectl.toml"
	default:
		log.Fatalf("unknown kind: %s", kind)
	}
	return ""
}

func validateFile(kind, path string) error {
	switch kind {
	case "server":
		_, err := config.LoadServerConfig(path)
		return err
	case "client":
		// Only syntax and key types are checked here; cilectl validates values.
		var raw map[string]any
		_, err := toml.DecodeFile(path, &raw)
		return err
	default:
		log.Fatalf("unknown kind: %s", kind)
	}
	return nil
}
