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

	for _, name := range []string{"crawl", "view", "entities", "lookup", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "insider-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCrawlCommand_Flags(t *testing.T) {
	for _, name := range []string{"start", "end", "type", "position", "refresh", "format", "out"} {
		assert.NotNil(t, crawlCmd.Flags().Lookup(name), "crawl should have --%s", name)
	}
	assert.Equal(t, "table", crawlCmd.Flags().Lookup("format").DefValue)
}

func TestViewCommand_HasNoRefresh(t *testing.T) {
	assert.Nil(t, viewCmd.Flags().Lookup("refresh"))
	require.NotNil(t, viewCmd.Flags().Lookup("position"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestCommands_RequireOneSymbol(t *testing.T) {
	assert.Error(t, crawlCmd.Args(crawlCmd, nil))
	assert.Error(t, viewCmd.Args(viewCmd, []string{"a", "b"}))
	assert.NoError(t, lookupCmd.Args(lookupCmd, []string{"AAPL"}))
	assert.Error(t, entitiesCmd.Args(entitiesCmd, []string{"x"}))
}
