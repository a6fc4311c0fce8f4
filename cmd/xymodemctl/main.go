// Command xymodemctl sends or receives a file over a serial port using
// XMODEM or YMODEM, driven by an INI config file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/modemkit/xymodem"
	"github.com/modemkit/xymodem/progress"
	"github.com/modemkit/xymodem/serialchannel"
)

func main() {
	log.SetLevel(log.InfoLevel)

	configPath := flag.String("c", "xymodemctl.ini", "path to the INI config file")
	mode := flag.String("mode", "send", "send or receive")
	file := flag.String("file", "", "file to send, or destination path to receive")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := loadFileConfig(*configPath)
	if err != nil {
		log.Fatalf("could not load config: %v", err)
	}
	if *file == "" {
		log.Fatal("-file is required")
	}

	slog.SetDefault(slog.New(newLogrusHandler(log.StandardLogger())))

	port, err := serialchannel.Open(serialchannel.Config{
		Port:        cfg.Port,
		BaudRate:    cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		log.Fatalf("could not open serial port %s: %v", cfg.Port, err)
	}
	defer port.Close()

	var reporter xymodem.Reporter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rep := progress.NewRedisReporter(client, cfg.RedisChannel, nil)
		defer rep.Close()
		reporter = rep
	}

	ctx := context.Background()

	switch *mode {
	case "send":
		err = runSend(ctx, cfg, port, *file, reporter)
	case "receive":
		err = runReceive(ctx, cfg, port, *file, reporter)
	default:
		log.Fatalf("unknown -mode %q, want send or receive", *mode)
	}

	if err != nil {
		log.Fatalf("transfer failed: %v", err)
	}
	log.Info("transfer completed successfully")
}

func runSend(ctx context.Context, cfg fileConfig, ch xymodem.Channel, path string, rep xymodem.Reporter) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if cfg.Protocol == "ymodem" {
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		ycfg := xymodem.NewYConfig()
		ycfg.MaxErrors = cfg.MaxErrors
		ycfg.PadByte = cfg.PadByte
		ycfg.Progress = rep
		return ycfg.Send(ctx, ch, f, info.Name(), uint64(info.Size()))
	}

	xcfg := xymodem.NewConfig()
	xcfg.MaxErrors = cfg.MaxErrors
	xcfg.PadByte = cfg.PadByte
	xcfg.BlockLength = cfg.BlockLength
	xcfg.Progress = rep
	return xcfg.Send(ctx, ch, f)
}

func runReceive(ctx context.Context, cfg fileConfig, ch xymodem.Channel, path string, rep xymodem.Reporter) error {
	if cfg.Protocol == "ymodem" {
		ycfg := xymodem.NewYConfig()
		ycfg.MaxErrors = cfg.MaxErrors
		ycfg.PadByte = cfg.PadByte
		ycfg.Progress = rep

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer f.Close()

		filename, size, err := ycfg.Receive(ctx, ch, f)
		if err != nil {
			return err
		}
		log.Infof("received %q (%d bytes)", filename, size)
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	xcfg := xymodem.NewConfig()
	xcfg.MaxErrors = cfg.MaxErrors
	xcfg.PadByte = cfg.PadByte
	xcfg.Progress = rep
	return xcfg.Receive(ctx, ch, f, cfg.Checksum)
}
