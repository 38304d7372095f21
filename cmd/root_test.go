package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "worker", "reconcile", "search", "contacts", "runs", "remote", "migrate"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "contactbook", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)

	flag := rootCmd.PersistentFlags().Lookup("output")
	require.NotNil(t, flag)
	assert.Equal(t, "table", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestContactsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range contactsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"add", "list", "import"} {
		assert.True(t, names[name], "contacts should have subcommand %q", name)
	}
}

func TestContactsImportCommand_Flags(t *testing.T) {
	for _, name := range []string{"csv", "if-empty"} {
		assert.NotNil(t, contactsImportCmd.Flags().Lookup(name), "contacts import should have --%s flag", name)
	}
}

func TestRemoteCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range remoteCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "get", "find"} {
		assert.True(t, names[name], "remote should have subcommand %q", name)
	}
}

func TestReconcileCommand_Flags(t *testing.T) {
	for _, name := range []string{"concurrency", "strict-email"} {
		assert.NotNil(t, reconcileCmd.Flags().Lookup(name), "reconcile should have --%s flag", name)
	}
}
