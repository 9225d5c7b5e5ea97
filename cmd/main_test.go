package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sleepywoodpecker/mindball-serial/internal/arena"
)

func parseRun(t *testing.T, args ...string) (runFlags, error) {
	t.Helper()
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags(args))

	var flags runFlags
	flags.configPath, _ = cmd.Flags().GetString("config")
	flags.variant, _ = cmd.Flags().GetString("variant")
	flags.ports, _ = cmd.Flags().GetStringArray("port")
	flags.baud, _ = cmd.Flags().GetInt("baud")
	flags.logFile, _ = cmd.Flags().GetString("log-file")
	flags.logLevel, _ = cmd.Flags().GetString("log-level")
	flags.telemetryAddr, _ = cmd.Flags().GetString("telemetry-addr")

	cfg, err := buildConfig(cmd, flags)
	if err != nil {
		return flags, err
	}
	assert.NotNil(t, cfg)
	return flags, nil
}

func TestBuildConfigDefaults(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags(nil))

	cfg, err := buildConfig(cmd, runFlags{variant: "single", logFile: LOG_FILE_PATH})
	require.NoError(t, err)
	assert.Equal(t, arena.VariantSingle, cfg.Variant)
	assert.Len(t, cfg.Devices, 1)
	assert.Equal(t, LOG_FILE_PATH, cfg.LogFile)
}

func TestBuildConfigFlagsOverride(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--variant", "dual", "-p", "/dev/ttyUSB0", "-p", "/dev/ttyUSB1", "--baud", "115200", "--telemetry-addr", "127.0.0.1:4020",
	}))

	cfg, err := buildConfig(cmd, runFlags{
		variant:       "dual",
		ports:         []string{"/dev/ttyUSB0", "/dev/ttyUSB1"},
		baud:          115200,
		telemetryAddr: "127.0.0.1:4020",
	})
	require.NoError(t, err)
	assert.Equal(t, arena.VariantDual, cfg.Variant)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Devices[1].Port)
	assert.Equal(t, 115200, cfg.Devices[0].BaudRate)
	assert.Equal(t, "127.0.0.1:4020", cfg.TelemetryAddr)
}

func TestBuildConfigPortCountMustMatch(t *testing.T) {
	_, err := parseRun(t, "--variant", "dual", "--port", "/dev/ttyUSB0")
	assert.ErrorContains(t, err, "needs 2 --port flag(s)")
}

func TestBuildConfigUnknownVariant(t *testing.T) {
	_, err := parseRun(t, "--variant", "triple")
	assert.ErrorContains(t, err, "unknown variant")
}

func TestBuildConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mindball.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"variant": "dual", "log_level": "debug"}`), 0o600))

	_, err := parseRun(t, "--config", path)
	require.NoError(t, err)

	_, err = parseRun(t, "--config", path, "--variant", "single")
	assert.ErrorContains(t, err, "conflicts")
}
