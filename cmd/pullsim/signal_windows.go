//go:build windows

package main

import "os"

// shutdownSignals cancel a running sweep or MCP session. Windows only
// delivers os.Interrupt (Ctrl+C).
var shutdownSignals = []os.Signal{os.Interrupt}
