// panic_recovery.go: Panic recovery for plugin hooks and listener goroutines
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"fmt"
	"runtime"
)

// withStackRecover returns a panic recovery function that logs panic details
// including the full stack trace. Call it with defer.
//
//	go func() {
//	    defer withStackRecover(logger)()
//	    // potentially panicking code
//	}()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)

			logger.Error("Panic recovered in goroutine",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}

// SafeGo executes fn in a new goroutine with automatic panic recovery.
func SafeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}

// callRecovered runs fn and converts a panic into an error. The stack is
// logged so the hook failure can be traced after the pipeline aborts.
func callRecovered(logger Logger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			logger.Error("Panic recovered in plugin hook",
				"panic", r,
				"stack", string(buf[:n]))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
