// Package pkg provides shared utilities for the softrescue stack.
//
// This package contains common functionality used by the device engine,
// the DFU protocol and the rescue transports, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors and their ROM status words
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentDFU, "mode selected", "mode", "RSCU")
//
// # Errors
//
// Errors are sentinel values. Each one maps to a 32-bit [Status] word that
// the SPI transport reports to the host:
//
//	if errors.Is(err, pkg.ErrBadSetup) {
//	    // Stall the control endpoint
//	}
//	word := pkg.StatusOf(err)
package pkg
