package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ghalamif/MeshTrace"
	"github.com/ghalamif/MeshTrace/internal/ports"
)

const defaultConfigPath = "./data/config.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "meshtrace-node",
		Short:        "Crash detection node: sample sensors, confirm impacts, deliver alerts",
		SilenceUsage: true,
	}
	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newStatsCmd(),
		newDecodeCmd(),
		newCrashesCmd(),
	)
	return root
}

func newRunCmd() *cobra.Command {
	var (
		cfgPath     string
		simulate    bool
		impactEvery time.Duration
		logFormat   string
		logLevel    string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the sampling loop, blackbox and metrics server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadOrDefault(cmd, cfgPath)
			if err != nil {
				return err
			}
			if impactEvery > 0 {
				cfg.Sensors.Simulation.ImpactEvery = impactEvery
			}
			logger, err := newLogger(cmd.ErrOrStderr(), logFormat, logLevel)
			if err != nil {
				return err
			}

			opts := []meshtrace.RuntimeOption{meshtrace.WithLogger(logger)}
			if simulate {
				opts = append(opts, meshtrace.WithSimulation())
			}
			rt, err := meshtrace.NewRuntime(cfg, opts...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return rt.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath, "path to node configuration file")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "replace the IMU, thermometer and GNSS with the bench simulator")
	cmd.Flags().DurationVar(&impactEvery, "impact-every", 0, "with --simulate, inject a synthetic crash at this period")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "log format: json or text")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	return cmd
}

// loadOrDefault falls back to the bench defaults only when --config was left
// at its default and the file does not exist.
func loadOrDefault(cmd *cobra.Command, path string) (*meshtrace.Config, error) {
	cfg, err := meshtrace.LoadConfig(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		return meshtrace.DefaultConfig(), nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func newValidateCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file without starting the node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := meshtrace.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Radio.Port != "" {
				if _, err := meshtrace.LoadKey(cfg.Security.KeyFile); err != nil {
					return fmt.Errorf("radio key: %w", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s is valid (node %s, topic %s)\n", cfgPath, cfg.Node.ID, cfg.MQTTSettings().Topic)
			return nil
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", defaultConfigPath, "path to configuration file to validate")
	return cmd
}

func newStatsCmd() *cobra.Command {
	var (
		url      string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Poll the Prometheus endpoint and print crash and delivery counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Streaming metrics from %s (Ctrl+C to stop)\n", url)
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := printMetricsSnapshot(ctx, out, url); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "stats error: %v\n", err)
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}

var statsColumns = []struct {
	label  string
	metric string
}{
	{"frames", ports.MetricFramesSampled},
	{"crashes", ports.MetricCrashesConfirmed},
	{"mqtt", ports.MetricDeliveredPrimary},
	{"radio", ports.MetricDeliveredFallback},
	{"failed", ports.MetricDeliveryFailed},
	{"connected", ports.GaugePrimaryConnected},
	{"blackbox_bytes", ports.GaugeBlackboxBytes},
	{"blackbox_healthy", ports.GaugeBlackboxHealthy},
}

func printMetricsSnapshot(ctx context.Context, w io.Writer, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values, err := scrapeValues(resp.Body)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", time.Now().Format(time.RFC3339))
	for _, c := range statsColumns {
		fmt.Fprintf(&b, " %s=%g", c.label, values[c.metric])
	}
	fmt.Fprintln(w, b.String())
	return nil
}

// scrapeValues reads unlabelled samples from the Prometheus text format.
func scrapeValues(r io.Reader) (map[string]float64, error) {
	values := make(map[string]float64, len(statsColumns))
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		name, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		var v float64
		if _, err := fmt.Sscanf(rest, "%g", &v); err == nil {
			values[name] = v
		}
	}
	return values, scanner.Err()
}

func newDecodeCmd() *cobra.Command {
	var keyFile string
	cmd := &cobra.Command{
		Use:   "decode <frame|->",
		Short: "Verify and decrypt a captured radio frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := meshtrace.LoadKey(keyFile)
			if err != nil {
				return err
			}
			frame := []byte(args[0])
			if args[0] == "-" {
				if frame, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			sum, err := meshtrace.DecodeSummary(key, frame)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sum)
		},
	}
	cmd.Flags().StringVar(&keyFile, "key-file", "", "hex-encoded 32-byte radio key")
	_ = cmd.MarkFlagRequired("key-file")
	return cmd
}

func newCrashesCmd() *cobra.Command {
	var (
		dir   string
		count int
	)
	cmd := &cobra.Command{
		Use:   "crashes",
		Short: "List the most recent entries of the crash log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			recs, err := meshtrace.ReadCrashLog(dir, count)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintf(out, "no crashes recorded in %s\n", dir)
				return nil
			}
			for _, rec := range recs {
				var pkg meshtrace.CrashPackage
				if err := json.Unmarshal(rec.Payload, &pkg); err != nil {
					return fmt.Errorf("crash record at %s: %w", rec.Timestamp.Format(time.RFC3339), err)
				}
				fmt.Fprintf(out, "%s  %s  %-6s  %6.2f m/s²  confidence=%.2f  channel=%d  %s\n",
					rec.Timestamp.Format(time.RFC3339), pkg.ID, pkg.Severity, pkg.Magnitude,
					pkg.Confidence, pkg.Channel, formatLocation(pkg.Location))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./data/blackbox", "blackbox directory")
	cmd.Flags().IntVar(&count, "count", 10, "number of trailing crashes to show")
	return cmd
}

func formatLocation(loc *meshtrace.Location) string {
	if loc == nil {
		return "no-fix"
	}
	return fmt.Sprintf("%.5f,%.5f", loc.Latitude, loc.Longitude)
}
