package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "meterread", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.Same(t, rootCmd, GetRootCommand())
}

func TestRootCommandHelp(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--help"})
	require.NoError(t, rootCmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "utility meters")
	assert.Contains(t, output, "Available Commands:")
	assert.Contains(t, output, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "meterread version")
	require.NoError(t, rootCmd.PersistentFlags().Set("version", "false"))
}

func TestVersionCommand(t *testing.T) {
	buf := new(bytes.Buffer)
	versionCmd.SetOut(buf)
	versionCmd.Run(versionCmd, nil)
	output := buf.String()
	assert.Contains(t, output, "meterread version")
	assert.Contains(t, output, "Commit:")
	assert.Contains(t, output, "Built:")
}

func TestRootCommandSubcommands(t *testing.T) {
	commandNames := make([]string, 0, len(rootCmd.Commands()))
	for _, subcmd := range rootCmd.Commands() {
		commandNames = append(commandNames, subcmd.Name())
	}
	for _, expected := range []string{"image", "stream", "watch", "serve", "config", "check", "version"} {
		assert.Contains(t, commandNames, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs([]string{"--invalid-flag"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

func TestRootCommandPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "verbose", "log-level", "models-dir", "gpu", "gpu-device", "gpu-mem-limit", "seed"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing persistent flag %s", name)
	}
}

func TestSubcommandHelp(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		want string
	}{
		{imageCmd, "still-image pipeline"},
		{streamCmd, "live camera"},
		{watchCmd, "new photo"},
		{serveCmd, "/reading/latest"},
		{checkCmd, "ONNX Runtime"},
		{configCmd, "configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Name(), func(t *testing.T) {
			buf := new(bytes.Buffer)
			tt.cmd.SetOut(buf)
			tt.cmd.SetErr(buf)
			require.NoError(t, tt.cmd.Help())
			output := strings.TrimSpace(buf.String())
			assert.Contains(t, output, tt.want)
			assert.Contains(t, output, "Usage:")
		})
	}
}

func TestImageCommandFlags(t *testing.T) {
	for _, name := range []string{
		"format", "output", "candidate", "output-dir", "ocr", "mask-padding-x", "mask-padding-y",
		"digit-model", "indicator-model", "workers", "continue-on-error", "reading-type", "decimals",
	} {
		assert.NotNil(t, imageCmd.Flags().Lookup(name), "missing flag %s", name)
	}
}

func TestImageCommandErrors(t *testing.T) {
	t.Run("no files", func(t *testing.T) {
		err := imageCmd.RunE(imageCmd, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no input files")
	})
	t.Run("missing file", func(t *testing.T) {
		err := imageCmd.RunE(imageCmd, []string{"/non/existent/file.jpg"})
		assert.Error(t, err)
	})
}

func TestServeCommandInvalidPort(t *testing.T) {
	GetConfigLoader().Set("server.port", 70000)
	defer GetConfigLoader().Set("server.port", 8080)

	err := serveCmd.RunE(serveCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port number")
}

func TestStreamCommandInvalidInterval(t *testing.T) {
	require.NoError(t, streamCmd.Flags().Set("interval", "0"))
	defer func() { _ = streamCmd.Flags().Set("interval", "100") }()

	err := streamCmd.RunE(streamCmd, []string{t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid interval")
}
