package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/capture"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/config"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/encoder"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/event"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/logger"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/server"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/utils"
)

var (
	flagAddr        string
	flagPort        int
	flagIdleTimeout string
	flagCodec       string
	flagDebug       bool
)

var rootCmd = &cobra.Command{
	Use:   "stream-server",
	Short: "On-demand camera streaming server",
	Long: "stream-server shares each camera between any number of HTTP clients:\n" +
		"a single GET warms the device, picks the stream parameters and delivers\n" +
		"MJPEG, raw H.264, fragmented MP4 or a UDP push until the last client leaves.",
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flagAddr, "addr", "", "listen address, overrides config.json")
	f.IntVar(&flagPort, "port", 0, "listen port, overrides config.json")
	f.StringVar(&flagIdleTimeout, "idle-timeout", "", "session idle grace like 10s or 2m, overrides config.json")
	f.StringVar(&flagCodec, "codec", "", "default codec when the query names none, mjpeg or h264")
	f.BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.ReadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr = flagAddr
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = flagPort
	}
	if cmd.Flags().Changed("idle-timeout") {
		cfg.IdleTimeout = flagIdleTimeout
	}
	if cmd.Flags().Changed("codec") {
		cfg.DefaultCodec = flagCodec
	}
	if cmd.Flags().Changed("debug") {
		cfg.DebugMode = flagDebug
	}
	config.Set(cfg)

	loggerShutdown := logger.Init()
	cleaner := event.NewCleaner()
	cleaner.Init(loggerShutdown)

	idle := utils.ParseStringTime(cfg.IdleTimeout)
	if idle <= 0 {
		idle = 10 * time.Second
	}

	manager := session.NewManager(idle, func() capture.Driver {
		return capture.NewV4L2Driver()
	})
	cleaner.Add(event.CallableFunc(manager.Close))

	srv := server.New(cfg, manager, encoder.NewH264)
	cleaner.Add(event.CallableFunc(srv.Shutdown))

	return srv.Run()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
