package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "sync", "packages", "inventory"} {
		assert.True(t, names[want], "missing %s", want)
	}
}

func TestArgumentValidation(t *testing.T) {
	t.Parallel()

	t.Run("sync needs a subscription ID", func(t *testing.T) {
		t.Parallel()
		_, err := run(t, "sync")
		require.Error(t, err)
		_, err = run(t, "sync", "not-a-uuid")
		assert.ErrorContains(t, err, "invalid subscription ID")
	})

	t.Run("inventory import needs an owner", func(t *testing.T) {
		t.Parallel()
		_, err := run(t, "inventory", "import", "stock.csv")
		assert.ErrorContains(t, err, "owner")
	})

	t.Run("inventory import rejects unknown schemas", func(t *testing.T) {
		t.Parallel()
		_, err := run(t, "inventory", "import", "--owner", "550e8400-e29b-41d4-a716-446655440000", "--schema", "auction", "stock.csv")
		assert.ErrorContains(t, err, "auction")
	})

	t.Run("packages import needs a file", func(t *testing.T) {
		t.Parallel()
		_, err := run(t, "packages", "import")
		assert.Error(t, err)
	})
}
