// Package cli provides the command-line interface for drawing signature validation.
package cli

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/georgepadayatti/sealtrust/config"
	"github.com/georgepadayatti/sealtrust/logging"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// stdout and stderr are variables to allow testing
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Run executes the CLI with the given arguments.
// This is the main entry point for the CLI.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	command := args[1]

	switch command {
	case "verify":
		VerifyCommand(args)
	case "batch":
		BatchCommand(args)
	case "trust":
		TrustCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		Usage()
		osExit(2)
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Fprintf(stdout, "sealtrust - engineering drawing signature validation tool\n\n")
	fmt.Fprintf(stdout, "Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Fprintln(stdout, "Commands:")
	fmt.Fprintln(stdout, "  verify   Validate the signatures of a drawing and decide compliance")
	fmt.Fprintln(stdout, "  batch    Validate many drawings and export a summary")
	fmt.Fprintln(stdout, "  trust    Manage trusted roots and association certificates")
	fmt.Fprintln(stdout, "  version  Show version information")
	fmt.Fprintln(stdout, "  help     Show this help message")
	fmt.Fprintln(stdout, "")
	fmt.Fprintf(stdout, "Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "Examples:")
	fmt.Fprintf(stdout, "  %s verify drawing.pdf\n", os.Args[0])
	fmt.Fprintf(stdout, "  %s verify -json -seal seals.yaml drawing.pdf\n", os.Args[0])
	fmt.Fprintf(stdout, "  %s batch -workers 8 -xlsx results.xlsx drawings/\n", os.Args[0])
	fmt.Fprintf(stdout, "  %s trust add -association APEGA apega-ca.pem\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Fprintf(stdout, "sealtrust version %s\n", Version)
	fmt.Fprintf(stdout, "Build time: %s\n", BuildTime)
}

// loadConfig loads the configuration file, if any, with environment
// overrides applied, and builds the logger it describes.
func loadConfig(path string) (*config.AppConfig, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// fail prints err and exits with status 1.
func fail(err error) {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	osExit(1)
}
