// Package pkg provides shared utilities for the softhcd host controller driver.
//
// This package contains common functionality used across the host core, the
// HAL implementations and the class drivers, including:
//
//   - Structured logging via [github.com/sirupsen/logrus]
//   - Sentinel error types for USB protocol and driver errors
//   - The terminal [TransferStatus] taxonomy reported to completion callbacks
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps logrus with USB-specific context. Arguments
// after the message are alternating keys and values:
//
//	pkg.SetLogLevel(logrus.DebugLevel)
//	pkg.LogInfo(pkg.ComponentMGR, "device configured", "address", 1)
//
// # Errors
//
// Common USB errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrQueueOverflow) {
//	    // Pipe busy, retry after the pending transfer completes
//	}
package pkg
