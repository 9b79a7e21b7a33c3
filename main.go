package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"grouper-dispatcher/internal/app"
	"grouper-dispatcher/internal/common/logging"
	"grouper-dispatcher/internal/config"
	"grouper-dispatcher/internal/envelope"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "grouper-dispatcher",
		Short: "Routes directory change-log envelopes to downstream queues",
		Long: `grouper-dispatcher consumes change envelopes from the ingress queue and
publishes each one to every queue whose routing rule matches the envelope's
group and operation. The rule file is reloaded when it changes on disk.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newCheckRulesCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the dispatcher until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run()
		},
	}
}

func newPublishCommand() *cobra.Command {
	var (
		queue   string
		format  string
		timeout time.Duration
		env     envelope.ChangeEnvelope
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one change envelope to the ingress queue",
		Long: `Publish one change envelope through the configured transport, keyed by
its group name. Useful for exercising rules without a directory server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(queue, format, timeout, &env)
		},
	}

	cmd.Flags().StringVar(&env.Operation, "operation", "", "Change operation, e.g. addMember (required)")
	cmd.Flags().StringVar(&env.Name, "name", "", "Group or stem name (required)")
	cmd.Flags().StringVar(&env.MemberID, "member-id", "", "Member subject id")
	cmd.Flags().StringVar(&env.OldName, "old-name", "", "Previous name for renames")
	cmd.Flags().StringVar(&env.Description, "description", "", "Group description")
	cmd.Flags().StringSliceVar(&env.MemberList, "member", nil, "Member of a full sync, repeatable")
	cmd.Flags().StringVar(&format, "format", "xml", "Wire format: xml or json")
	cmd.Flags().StringVar(&queue, "queue", "", "Destination queue (default FROM_QUEUE)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Publish timeout")
	for _, name := range []string{"operation", "name"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("Failed to mark %s as required: %v", name, err))
		}
	}

	return cmd
}

func runPublish(queue, format string, timeout time.Duration, env *envelope.ChangeEnvelope) error {
	cfg, err := app.Setup()
	if err != nil {
		return err
	}
	defer logging.MustSync()

	f, err := envelope.ParseFormat(format)
	if err != nil {
		return err
	}
	if queue == "" {
		queue = cfg.FromQueue
	}

	factory, err := app.BrokerFactory(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Publish(ctx, factory, queue, env, f); err != nil {
		return err
	}
	fmt.Printf("Published %s for %s to %s\n", env.Operation, env.Name, queue)
	return nil
}

func newCheckRulesCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "check-rules",
		Short: "Parse the routing rule file and print its rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg := config.Load()
			if file == "" {
				file = cfg.RulesFile
			}
			return app.CheckRules(file, cfg.FromQueue, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Rule file (default RULES_FILE)")
	return cmd
}
