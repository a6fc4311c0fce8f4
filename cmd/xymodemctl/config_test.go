package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modemkit/xymodem"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "xymodemctl.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadFileConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `
[serial]
port = /dev/ttyUSB0
`)
	cfg, err := loadFileConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Port)
	assert.Equal(t, 115200, cfg.BaudRate)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "xmodem", cfg.Protocol)
	assert.Equal(t, xymodem.OneK1024, cfg.BlockLength)
	assert.Equal(t, xymodem.Crc16, cfg.Checksum)
}

func TestLoadFileConfigOverrides(t *testing.T) {
	path := writeTempConfig(t, `
[serial]
port = /dev/ttyACM0
baud_rate = 9600
read_timeout_ms = 500

[transfer]
protocol = ymodem
block_length = 128
checksum = standard
max_errors = 5
pad_byte = 0

[redis]
addr = localhost:6379
channel = firmware:progress
`)
	cfg, err := loadFileConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Port)
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.Equal(t, 500*time.Millisecond, cfg.ReadTimeout)
	assert.Equal(t, "ymodem", cfg.Protocol)
	assert.Equal(t, xymodem.Standard128, cfg.BlockLength)
	assert.Equal(t, xymodem.Standard, cfg.Checksum)
	assert.EqualValues(t, 5, cfg.MaxErrors)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "firmware:progress", cfg.RedisChannel)
}

func TestLoadFileConfigMissingFile(t *testing.T) {
	_, err := loadFileConfig(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}
