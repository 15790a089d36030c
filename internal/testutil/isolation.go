// Package testutil holds helpers shared by the fabrichost test suites.
package testutil

import (
	"os"
	"strings"
	"testing"
)

// DefaultPrefixes are the environment prefixes read by the config
// feeders and the test runtime.
var DefaultPrefixes = []string{"E2E_TEST_", "FABRICHOST_"}

// snapshot captures every variable whose name starts with one of prefixes.
func snapshot(prefixes []string) map[string]string {
	out := map[string]string{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				out[k] = v
				break
			}
		}
	}
	return out
}

func restore(prefixes []string, saved map[string]string) {
	for k := range snapshot(prefixes) {
		if _, ok := saved[k]; !ok {
			_ = os.Unsetenv(k)
		}
	}
	for k, v := range saved {
		_ = os.Setenv(k, v)
	}
}

// WithIsolatedEnv runs fn with every variable under prefixes cleared and
// restores the previous values afterwards, including any fn added.
func WithIsolatedEnv(prefixes []string, fn func()) {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	saved := snapshot(prefixes)
	defer restore(prefixes, saved)
	for k := range saved {
		_ = os.Unsetenv(k)
	}
	fn()
}

// Isolate clears the fabrichost environment for the duration of t. Tests
// calling it must not run in parallel.
func Isolate(t *testing.T, prefixes ...string) {
	t.Helper()
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}
	saved := snapshot(prefixes)
	for k := range saved {
		_ = os.Unsetenv(k)
	}
	t.Cleanup(func() { restore(prefixes, saved) })
}
