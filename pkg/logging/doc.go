// Package logging is the process-wide structured logger for switchboard.
//
// It wraps log/slog with a subsystem attribute on every record so output
// from the connection manager, the secret resolver and the OAuth flow can be
// told apart:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("Upstream", "connected to %s", serverID)
//	logging.Error("OAuth", err, "token refresh failed for %s", serverID)
//
// Nothing here ever writes to stdout. When the broker serves over stdio,
// stdout is the protocol channel.
package logging
