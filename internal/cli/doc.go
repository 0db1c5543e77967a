// Package cli owns argument parsing and process-level concerns like exit
// codes. It translates flags into the application's configuration and
// renders command output; the pipeline itself lives in internal/app.
package cli
