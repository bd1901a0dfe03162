package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"edgecam/internal/agent"
	"edgecam/internal/config"
	"edgecam/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runtime is shared by the subcommands once PersistentPreRunE has loaded
// the configuration.
type runtime struct {
	cfg    *config.AgentConfig
	logger *logger.Logger
	agent  *agent.Agent
}

func newRootCommand() *cobra.Command {
	rt := &runtime{}
	var (
		serverURL string
		queueDir  string
		logDir    string
		policy    string
	)

	cmd := &cobra.Command{
		Use:           "edgecam-agent",
		Short:         "Capture, queue and deliver images to the collection server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !needsRuntime(cmd) {
				return nil
			}
			_ = godotenv.Load()

			cfg, err := config.LoadAgent(cmd.Context())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			flags := cmd.Flags()
			if flags.Changed("server") {
				cfg.ServerURL = serverURL
			}
			if flags.Changed("queue-dir") {
				cfg.QueueDirectory = queueDir
			}
			if flags.Changed("log-dir") {
				cfg.LogDirectory = logDir
			}
			if flags.Changed("rejected-policy") {
				cfg.RejectedPolicy = policy
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := logger.NewLogger(cfg.LogDirectory)
			if err != nil {
				return err
			}
			a, err := agent.NewAgentFromConfig(cfg, log)
			if err != nil {
				log.Close()
				return err
			}

			rt.cfg, rt.logger, rt.agent = cfg, log, a
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.logger != nil {
				rt.logger.Close()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "Ingestion URL (overrides SERVER_URL)")
	cmd.PersistentFlags().StringVar(&queueDir, "queue-dir", "", "Local queue directory (overrides QUEUE_DIR)")
	cmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Directory for level log files (overrides LOG_DIR)")
	cmd.PersistentFlags().StringVar(&policy, "rejected-policy", "", "keep or quarantine (overrides REJECTED_POLICY)")

	cmd.AddCommand(newRunCommand(rt))
	cmd.AddCommand(newOffloadCommand(rt))
	cmd.AddCommand(newPendingCommand(rt))
	return cmd
}

// needsRuntime reports whether cmd works on the queue. The bare root
// command and help only print usage and must not touch the filesystem.
func needsRuntime(cmd *cobra.Command) bool {
	return cmd != cmd.Root() && cmd.Name() != "help"
}

func newRunCommand(rt *runtime) *cobra.Command {
	var (
		wait         time.Duration
		offloadAfter bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture one image, queue it and try to deliver it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("wait") {
				wait = rt.cfg.WaitForServer
			}
			if wait > 0 {
				rt.agent.WaitForServer(ctx, wait)
			}

			report, err := rt.agent.CaptureAndSend(ctx)
			if err != nil {
				rt.logger.Error("Capture failed: %v", err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", report.ID, report.Delivery.Outcome)

			if offloadAfter {
				if _, err := rt.agent.Offload(ctx); err != nil {
					rt.logger.Error("Offload failed: %v", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait up to this long for the server before capturing (overrides WAIT_FOR_SERVER)")
	cmd.Flags().BoolVar(&offloadAfter, "offload", false, "Run an offload pass after the capture")
	return cmd
}

func newOffloadCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "offload",
		Short: "Retry delivery of every queued image once, with backoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := rt.agent.Offload(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum)
			return nil
		},
	}
}

func newPendingCommand(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List images waiting for delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			pending, err := rt.agent.Pending()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSIZE\tQUEUED")
			for _, p := range pending {
				fmt.Fprintf(w, "%s\t%d\t%s\n", p.ID, p.Size, p.Queued.Format("2006-01-02 15:04:05"))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			rejected, err := rt.agent.Store().Rejected()
			if err == nil && len(rejected) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%d quarantined in %s\n", len(rejected), "rejected/")
			}
			return nil
		},
	}
}
