// Package commands holds the kenrich command line.
package commands

import (
	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:           "kenrich",
		Short:         "Stream/table enrichment and windowed aggregation over kafka",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	command.AddCommand(NewRunCommand())
	command.AddCommand(NewGenerateCommand())
	command.AddCommand(NewDescribeCommand())

	return command
}

// commonFlags maps config keys to the flags shared by every command.
var commonFlags = map[string]string{
	`topology`:          `topology`,
	`bootstrap_servers`: `bootstrap-servers`,
	`log_level`:         `log-level`,
	`application_id`:    `application-id`,
}

func addCommonFlags(command *cobra.Command, configFile *string) {
	command.Flags().StringVarP(configFile, `config`, `c`, ``, `Config file (yaml, json or toml). Env vars prefixed with KENRICH_ override it`)
	command.Flags().StringP(`topology`, `t`, `user-events`, `Topology to run (user-events, quotes)`)
	command.Flags().StringSlice(`bootstrap-servers`, []string{`localhost:9092`}, `Kafka bootstrap servers`)
	command.Flags().String(`log-level`, `info`, `Log level (trace, debug, info, warn, error)`)
	command.Flags().String(`application-id`, `kenrich`, `Application id, used as the consumer group`)
}
