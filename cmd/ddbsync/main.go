// ddbsync converges DynamoDB tables to a declared schema file.
//
// # Commands
//
//	ddbsync sync     Reconcile remote tables against a schema file
//	ddbsync cleanup  Delete tables by name prefix (test environments)
//
// # Quick Start
//
// Declare tables in ddbsync.yaml:
//
//	tables:
//	  - name: users
//	    partitionKey: {name: id, kind: S}
//	    attributes:
//	      - {name: email, kind: S}
//	    gsis:
//	      - name: email-Index
//
// Then run it on every deploy:
//
//	ddbsync sync -f ddbsync.yaml
//
// Re-running against a converged account is a no-op.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	// Remove the subcommand from args so flag parsing works
	os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

	var err error
	switch cmd {
	case "sync":
		err = runSync()
	case "cleanup":
		err = runCleanup()
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Printf("ddbsync version %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "ddbsync: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ddbsync %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ddbsync - declarative DynamoDB table and index reconciliation

Usage:
  ddbsync <command> [flags]

Commands:
  sync     Reconcile remote tables against a schema file
  cleanup  Delete tables matching a name prefix

Examples:
  # Converge the account to the declared schemas:
  ddbsync sync -f ddbsync.yaml

  # Slow down status polling:
  ddbsync sync -f ddbsync.yaml -interval 10s

  # Tear down integration test tables:
  ddbsync cleanup -prefix inttest-

Environment:
  LOG_FORMAT=json    emit JSON logs instead of console output
  LOG_LEVEL=debug    include per-pair diff logging

Run 'ddbsync <command> -h' for more information on a command.`)
}
