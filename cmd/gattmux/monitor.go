package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/gattmux/internal/gattconn"
	"github.com/srg/gattmux/internal/groutine"
	"github.com/srg/gattmux/internal/stream"
	"github.com/srg/gattmux/pkg/config"
	"github.com/srg/gattmux/presenter"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <device-address>",
	Short: "Drive a characteristic interactively",
	Long: `Opens an interactive session against one characteristic.

Keys:
  c  connect                    a  abort connection attempt
  d  disconnect                 r  read
  w  write (--write-payload)    q  quit
  n  enable notifications       N  disable/abort notifications
  i  enable indications         I  disable/abort indications

Examples:
  # Heart-rate measurement, read-only
  gattmux monitor AA:BB:CC:DD:EE:FF --char 2a37

  # Writable characteristic with a fixed payload on 'w'
  gattmux monitor AA:BB:CC:DD:EE:FF --char ff31 --write-payload 01ff`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorCharUUID     string
	monitorTimeout      time.Duration
	monitorJSON         bool
	monitorConfigPath   string
	monitorWritePayload string
)

func init() {
	monitorCmd.Flags().StringVar(&monitorCharUUID, "char", "", "Characteristic UUID (e.g., 2a37)")
	monitorCmd.Flags().DurationVar(&monitorTimeout, "timeout", 30*time.Second, "Connection timeout")
	monitorCmd.Flags().BoolVar(&monitorJSON, "json", false, "Output events as JSON lines")
	monitorCmd.Flags().StringVar(&monitorConfigPath, "config", "", "Config file (YAML)")
	monitorCmd.Flags().StringVar(&monitorWritePayload, "write-payload", "", "Hex payload sent on 'w' (e.g., 01ff)")
	monitorCmd.Flags().Bool("verbose", false, "Enable debug logging")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	address := args[0]

	cfg := config.Default()
	if monitorConfigPath != "" {
		loaded, err := config.Load(monitorConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if monitorCharUUID != "" {
		cfg.CharacteristicUUID = monitorCharUUID
	}
	if cmd.Flags().Changed("timeout") {
		cfg.ConnectTimeout = monitorTimeout
	}
	if monitorJSON {
		cfg.OutputFormat = "json"
	}
	if cfg.CharacteristicUUID == "" {
		return fmt.Errorf("characteristic UUID is required (--char or config file)")
	}

	var writePayload []byte
	if monitorWritePayload != "" {
		data, err := hex.DecodeString(strings.TrimPrefix(monitorWritePayload, "0x"))
		if err != nil {
			return fmt.Errorf("invalid --write-payload %q: %w", monitorWritePayload, err)
		}
		writePayload = data
	}

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		cancel()
	}()

	device := gattconn.NewPeripheral(address, &gattconn.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		NotifyBuffer:   cfg.EventBuffer,
	}, logger)

	triggers := presenter.NewTriggerSource()
	driver := presenter.NewDriver(device, cfg.CharacteristicUUID, logger)
	events := driver.Run(ctx, triggers.Triggers())

	// Fan the single driver stream out to the renderer and the history
	// collector.
	broadcast := stream.NewBroadcaster[presenter.Event](cfg.EventBuffer)
	renderCh, cancelRender := broadcast.Subscribe()
	defer cancelRender()
	historyCh, cancelHistory := broadcast.Subscribe()
	defer cancelHistory()

	collector, err := presenter.NewEventCollector(historyCh, uint32(cfg.EventBuffer))
	if err != nil {
		return err
	}
	if err := collector.Start(); err != nil {
		return err
	}
	defer func() {
		if serr := collector.Stop(); serr != nil {
			logger.WithError(serr).Warn("Collector did not stop cleanly")
		}
	}()

	groutine.Go(ctx, "monitor-fanout", func(ctx context.Context) {
		defer broadcast.Close()
		for ev := range events {
			broadcast.Publish(ev)
		}
	})

	if err := runKeyboard(ctx, cancel, triggers, writePayload); err != nil {
		return err
	}

	renderEvents(renderCh, cfg.OutputFormat == "json")

	metrics := collector.Metrics()
	fmt.Fprintf(os.Stderr, "\n%d events, %d dropped from history\n",
		metrics.Processed(), metrics.Overwritten())
	return nil
}

// runKeyboard puts stdin into raw mode and translates keys into
// trigger fires until ctx ends or 'q' is pressed. Restores the
// terminal before returning. Falls back to a no-op when stdin is not a
// terminal, so the session can still be driven by signals.
func runKeyboard(ctx context.Context, cancel context.CancelFunc, t *presenter.TriggerSource, writePayload []byte) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to enter raw terminal mode: %w", err)
	}

	groutine.Go(ctx, "monitor-keyboard", func(ctx context.Context) {
		defer func() { _ = term.Restore(fd, oldState) }()
		buf := make([]byte, 1)
		for {
			if ctx.Err() != nil {
				return
			}
			n, rerr := os.Stdin.Read(buf)
			if rerr != nil || n == 0 {
				cancel()
				return
			}
			switch buf[0] {
			case 'c':
				t.Connect()
			case 'a':
				t.CancelConnect()
			case 'd':
				t.Disconnect()
			case 'r':
				t.Read()
			case 'w':
				t.Write(writePayload)
			case 'n':
				t.EnableNotify()
			case 'N':
				// Covers both pending setup and the active subscription.
				t.CancelNotify()
				t.DisableNotify()
			case 'i':
				t.EnableIndicate()
			case 'I':
				t.CancelIndicate()
				t.DisableIndicate()
			case 'q', 3: // q or Ctrl+C
				cancel()
				return
			}
		}
	})
	return nil
}

// renderEvents prints events until the channel closes.
func renderEvents(events <-chan presenter.Event, asJSON bool) {
	infoColor := color.New(color.FgCyan)
	resultColor := color.New(color.FgGreen)
	errorColor := color.New(color.FgRed)
	compatColor := color.New(color.FgYellow)

	for ev := range events {
		if asJSON {
			line, err := presenter.EventToJSON(ev)
			if err != nil {
				fmt.Fprintf(os.Stderr, "event encoding failed: %v\r\n", err)
				continue
			}
			fmt.Printf("%s\r\n", line)
			continue
		}
		switch e := ev.(type) {
		case presenter.InfoEvent:
			infoColor.Printf("%s\r\n", e)
		case presenter.ResultEvent:
			resultColor.Printf("%s\r\n", e)
		case presenter.ErrorEvent:
			errorColor.Printf("%s\r\n", e)
		case presenter.CompatibilityModeEvent:
			compatColor.Printf("%s\r\n", e)
		default:
			fmt.Printf("%v\r\n", ev)
		}
	}
}
