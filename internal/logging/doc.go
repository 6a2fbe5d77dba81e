// Package logging provides structured logging with per-module levels.
//
// Records go to stdout (text or json), to the systemd journal when journald
// is reachable, and to an in-memory ring buffer that backs the log API.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"feed":   "debug",
//			"fanout": "warn",
//		},
//	})
//
// Then fetch a logger per module:
//
//	logger := logging.GetLogger("feed")
//	logger.Info("Feeding started", "seq", seq)
//
// Loggers obtained before Initialize are cached; Initialize updates their
// level in place. SetLevel changes a module level at runtime.
//
// Journal entries carry SYSLOG_IDENTIFIER=feednode and upper-cased attribute
// keys:
//
//	journalctl -t feednode MODULE=feed -f
//
// TOML:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	feed = "debug"
package logging
