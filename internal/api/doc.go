// Package api holds the error types shared by the connection manager, the
// broker frontage and the command line.
package api
