// Package commands defines the aaes CLI.
//
// Commands
//
//   - serve         Run the local control server a browser page drives
//   - enhance       Enhance one file and export the result, then exit
//   - stub-service  Run a stand-in enhancement service for development
//
// # Implementation
//
// The root command loads AAES_* settings, applies flag overrides and sets up
// logging before any subcommand runs. Subcommands build their own
// dependency graph from the resulting config.
package commands
