package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/yanet-platform/nd6/common/go/logging"
	"github.com/yanet-platform/nd6/common/go/xcmd"
	"github.com/yanet-platform/nd6/internal/inspect"
	"github.com/yanet-platform/nd6/pkg/nd6"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string
	// Endpoint is the inspect service address queried by "inspect".
	Endpoint string
	// Timeout bounds an inspect call.
	Timeout time.Duration
}

var rootCmd = &cobra.Command{
	Use:   "nd6d",
	Short: "IPv6 Neighbor Discovery daemon",
	Run: func(rawCmd *cobra.Command, args []string) {
		if err := run(cmd); err != nil {
			if xcmd.IsInterrupted(err) {
				return
			}

			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

var inspectCmd = &cobra.Command{
	Use:       "inspect <method>",
	Short:     "Print the daemon state",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: inspect.Methods,
	RunE: func(rawCmd *cobra.Command, args []string) error {
		return runInspect(rawCmd.Context(), cmd, args[0])
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file (required)")
	rootCmd.MarkFlagRequired("config")

	inspectCmd.Flags().StringVar(&cmd.Endpoint, "endpoint", nd6.DefaultConfig().Inspect, "Inspect service endpoint")
	inspectCmd.Flags().DurationVar(&cmd.Timeout, "timeout", 5*time.Second, "Call timeout")
	rootCmd.AddCommand(inspectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd) error {
	cfg, err := nd6.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Sync()

	daemon, err := nd6.NewDaemon(cfg, nd6.WithLog(log))
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx := context.Background()
	wg, ctx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return daemon.Run(ctx)
	})
	wg.Go(func() error {
		err := xcmd.WaitInterrupted(ctx, xcmd.StopSignals...)
		if xcmd.IsInterrupted(err) {
			log.Infow("stopping", "reason", err.Error())
		}
		return err
	})

	return wg.Wait()
}

func runInspect(ctx context.Context, cmd Cmd, method string) error {
	if !slices.Contains(inspect.Methods, method) {
		return fmt.Errorf("unknown method %q", method)
	}

	conn, err := grpc.NewClient(cmd.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cmd.Endpoint, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, cmd.Timeout)
	defer cancel()

	out, err := inspect.NewClient(conn).Call(ctx, method)
	if err != nil {
		return err
	}

	buf, err := protojson.MarshalOptions{Multiline: true}.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to render response: %w", err)
	}
	fmt.Println(string(buf))
	return nil
}
