package config_test

import (
	"os"
	"testing"
)

// unsetAll removes keys for the duration of the test. t.Setenv is called first
// so the original values are restored on cleanup.
func unsetAll(t *testing.T, keys []string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}
