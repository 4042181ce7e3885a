package commands

import (
	"fmt"

	"github.com/gmbyapa/kenrich/domain"
	"github.com/gmbyapa/kenrich/streams"
	"github.com/spf13/cobra"
	"github.com/tryfix/metrics"
)

func NewDescribeCommand() *cobra.Command {
	var (
		configFile string
		dot        bool
	)

	command := &cobra.Command{
		Use:   "describe",
		Short: "Print the stages of a topology without connecting to kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(newViper(), configFile, cmd.Flags(), commonFlags)
			if err != nil {
				return err
			}

			out, err := describe(conf, dot)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}

	addCommonFlags(command, &configFile)
	command.Flags().BoolVar(&dot, `dot`, false, `Print a graphviz dot graph`)

	return command
}

func describe(conf *AppConfig, dot bool) (string, error) {
	topology, err := domain.Lookup(conf.Topology)
	if err != nil {
		return ``, err
	}

	pConf, err := pipelineConfig(conf, topology, conf.logger(), metrics.NoopReporter())
	if err != nil {
		return ``, err
	}

	pipeline, err := streams.New(pConf)
	if err != nil {
		return ``, err
	}

	if dot {
		return pipeline.Visualize()
	}

	return pipeline.Describe(), nil
}
