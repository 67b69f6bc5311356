// Package main is the entry point for the chatwarden load test binary.
// It provides subcommands for different load testing scenarios:
//
//   - flood:     sustained signed deliveries at a fixed rate
//   - burst:     one concurrent wave of deliveries
//   - redeliver: the same message id delivered many times at once
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "flood":
		runFlood(os.Args[2:])
	case "burst":
		runBurst(os.Args[2:])
	case "redeliver":
		runRedeliver(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  flood       Sustained throughput test — signed text deliveries at a fixed rate")
	fmt.Println("  burst       Spike test — one wave of concurrent deliveries")
	fmt.Println("  redeliver   Idempotence test — the same message id delivered many times at once")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
