package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/debemdeboas/lectern/internal/config"
)

const header = `# Lectern Configuration Example
# Copy this file to config.yaml and customize as needed.
# S3 credentials are read from LECTERN_S3_ACCESS_KEY_ID and LECTERN_S3_SECRET_ACCESS_KEY.

`

func generate() ([]byte, error) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	yamlData, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "generating YAML")
	}
	return append([]byte(header), yamlData...), nil
}

func main() {
	outputFile := flag.String("o", "config.example.yaml", "Output file, or - for stdout")
	flag.Parse()

	output, err := generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *outputFile == "-" {
		os.Stdout.Write(output)
		return
	}
	if err := os.WriteFile(*outputFile, output, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Generated example config: %s\n", *outputFile)
}
