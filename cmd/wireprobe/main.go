package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/deskwire/deskwire-client/pkg/logging"
	"github.com/deskwire/deskwire-client/pkg/transport"
)

func main() {
	app := &cli.App{
		Name:  "wireprobe",
		Usage: "DeskWire transport diagnostics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "backend websocket URL (overrides env and config file)",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a YAML config file",
			},
			&cli.DurationFlag{
				Name:  "watch",
				Usage: "how long to watch for broadcasts after the ping",
				Value: 5 * time.Second,
			},
		},
		Action: runProbe,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runProbe(c *cli.Context) error {
	if err := logging.InitServiceLogger(logging.NewDefaultConfig(logging.ProbeProcess)); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logging.Shutdown()
	logger := logging.GetServiceLogger()

	cfg := transport.FromEnv()
	if path := c.String("config"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return err
		}
	}
	if url := c.String("url"); url != "" {
		cfg.URL = url
	}

	client, err := transport.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	client.OnStatusChange(func(status transport.Status, attempt int) {
		logger.Infof("status: %s (attempt %d)", status, attempt)
	})
	for _, msgType := range []transport.MessageType{
		transport.TypeDashboardUpdate,
		transport.TypePlanningUpdate,
		transport.TypeCoachingHint,
	} {
		msgType := msgType
		client.On(msgType, func(msg *transport.Message) {
			logger.Infof("broadcast %s: %s", msgType, string(msg.Payload))
		})
	}

	logger.Infof("probing %s", cfg.URL)
	client.Connect()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := client.Send(transport.TypeSessionPing, nil).Await(ctx)
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	logger.Infof("ping acked in %s (type=%s)", time.Since(start).Round(time.Millisecond), resp.Type)

	if watch := c.Duration("watch"); watch > 0 {
		logger.Infof("watching broadcasts for %s", watch)
		time.Sleep(watch)
	}
	return nil
}
