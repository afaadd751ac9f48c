// Package server defines shared notice formatting and utility helpers that
// are reused across client and hub logic.
package server

import (
	"fmt"
	"strings"
)

func connectNotice(peer string) string {
	return fmt.Sprintf("Client %q connected.", peer)
}

func disconnectNotice(peer string) string {
	return fmt.Sprintf("Client %q disconnected.", peer)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
