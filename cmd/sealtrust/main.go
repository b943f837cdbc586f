// Command sealtrust validates the digital signatures of engineering drawings
// and decides their compliance together with image seal verdicts.
//
// Usage:
//
//	sealtrust <command> [options] <args>
//
// Commands:
//
//	verify   Validate the signatures of a drawing and decide compliance
//	batch    Validate many drawings and export a summary
//	trust    Manage trusted roots and association certificates
//	version  Show version information
//	help     Show help message
//
// Examples:
//
//	# Verify a drawing
//	sealtrust verify drawing.pdf
//
//	# Combine with seal verdicts and output JSON
//	sealtrust verify -seal seals.yaml -json drawing.pdf
//
//	# Validate a folder and write a workbook
//	sealtrust batch -xlsx results.xlsx drawings/
package main

import (
	"os"

	"github.com/georgepadayatti/sealtrust/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/sealtrust
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime

	cli.Run(os.Args)
}
