// Package sandbox isolates backtest execution in a subprocess with a
// scratch working directory, a hard timeout, and a security preflight
// over the generated logic document.
package sandbox

import (
	"fmt"
	"strings"
)

// SecurityError reports a forbidden construct found in a generated
// logic document during preflight.
type SecurityError struct {
	Pattern string
}

// Error implements the error interface
func (e *SecurityError) Error() string {
	return fmt.Sprintf("generated logic contains forbidden construct: %q", e.Pattern)
}

// deniedPatterns lists substrings that must never appear in a generated
// logic document. The worker runs with no network and a scratch dir, but
// the document is rejected up front rather than trusted to the runtime.
var deniedPatterns = []string{
	"import os",
	"import sys",
	"subprocess",
	"os.system",
	"eval(",
	"exec(",
	"__import__",
	"open(",
	"socket",
	"urllib",
	"requests.",
	"http://",
	"https://",
	"file://",
	"../",
}

// Preflight scans a generated logic document for denied patterns. The
// scan is case-insensitive. Returns a SecurityError naming the first
// matched pattern.
func Preflight(doc []byte) error {
	lowered := strings.ToLower(string(doc))
	for _, p := range deniedPatterns {
		if strings.Contains(lowered, p) {
			return &SecurityError{Pattern: p}
		}
	}
	return nil
}
