package main

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/modemkit/xymodem"
)

// fileConfig is loaded from an INI file's [serial], [transfer] and
// [redis] sections (EDS-style sectioned config, the same shape
// gopkg.in/ini.v1 parses elsewhere in this ecosystem).
type fileConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration

	Protocol    string // "xmodem" or "ymodem"
	BlockLength xymodem.BlockLength
	Checksum    xymodem.ChecksumMode
	MaxErrors   uint32
	PadByte     byte

	RedisAddr    string
	RedisChannel string
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		BaudRate:     115200,
		ReadTimeout:  3 * time.Second,
		Protocol:     "xmodem",
		BlockLength:  xymodem.OneK1024,
		Checksum:     xymodem.Crc16,
		MaxErrors:    16,
		PadByte:      0x1A,
		RedisChannel: "xymodem:progress",
	}
}

func loadFileConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()

	f, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("config: load %s: %w", path, err)
	}

	serial := f.Section("serial")
	cfg.Port = serial.Key("port").String()
	if n, err := serial.Key("baud_rate").Int(); err == nil && n > 0 {
		cfg.BaudRate = n
	}
	if ms, err := serial.Key("read_timeout_ms").Int(); err == nil && ms > 0 {
		cfg.ReadTimeout = time.Duration(ms) * time.Millisecond
	}

	transfer := f.Section("transfer")
	if v := transfer.Key("protocol").String(); v != "" {
		cfg.Protocol = v
	}
	if v := transfer.Key("block_length").String(); v == "128" {
		cfg.BlockLength = xymodem.Standard128
	}
	if v := transfer.Key("checksum").String(); v == "standard" {
		cfg.Checksum = xymodem.Standard
	}
	if n, err := transfer.Key("max_errors").Uint(); err == nil && n > 0 {
		cfg.MaxErrors = uint32(n)
	}
	if n, err := transfer.Key("pad_byte").Uint(); err == nil {
		cfg.PadByte = byte(n)
	}

	redisSection := f.Section("redis")
	cfg.RedisAddr = redisSection.Key("addr").String()
	if v := redisSection.Key("channel").String(); v != "" {
		cfg.RedisChannel = v
	}

	return cfg, nil
}
