package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"issueflow/internal/bootstrap/config"
	"issueflow/internal/errs"
	"issueflow/internal/infrastructure/workflowfile"
)

var (
	workflowProject string
	workflowFormat  string
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Inspect the resolved workflow configuration",
}

var workflowValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Resolve and validate the workflow for a project",
	RunE: withConfig(func(cmd *cobra.Command, _ config.Config, loader *workflowfile.Loader) error {
		layers, err := loader.Layers(workflowProject)
		if err != nil {
			return errs.Wrap(err, "read workflow layers")
		}
		if _, err := loader.Load(cmd.Context(), workflowProject); err != nil {
			return errs.Wrap(err, "validate workflow")
		}
		names := []string{"builtin"}
		for _, layer := range layers {
			names = append(names, layer.Name)
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "workflow ok: %s\n", strings.Join(names, " -> ")); err != nil {
			return errs.Wrap(err, "write workflow validate output")
		}
		return nil
	}),
}

var workflowShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged workflow for a project",
	RunE: withConfig(func(cmd *cobra.Command, _ config.Config, loader *workflowfile.Loader) error {
		cfg, err := loader.Load(cmd.Context(), workflowProject)
		if err != nil {
			return errs.Wrap(err, "load workflow")
		}
		encoded, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errs.Wrap(err, "encode workflow")
		}

		switch strings.ToLower(strings.TrimSpace(workflowFormat)) {
		case "json":
		case "", "yaml", "yml":
			var tree any
			if err := yaml.Unmarshal(encoded, &tree); err != nil {
				return errs.Wrap(err, "convert workflow to yaml")
			}
			if encoded, err = yaml.Marshal(tree); err != nil {
				return errs.Wrap(err, "encode workflow yaml")
			}
		default:
			return fmt.Errorf("unknown format %q, expected yaml or json", workflowFormat)
		}

		if _, err := fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(encoded), "\n")); err != nil {
			return errs.Wrap(err, "write workflow show output")
		}
		return nil
	}),
}

var workflowSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of workflow override files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		schema, err := workflowfile.Schema()
		if err != nil {
			return errs.Wrap(err, "generate workflow schema")
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(schema)); err != nil {
			return errs.Wrap(err, "write workflow schema output")
		}
		return nil
	},
}

func init() {
	workflowCmd.PersistentFlags().StringVar(&workflowProject, "project", "", "Project slug; empty resolves only the shared layer")
	workflowShowCmd.Flags().StringVar(&workflowFormat, "format", "yaml", "Output format: yaml|json")

	workflowCmd.AddCommand(workflowValidateCmd, workflowShowCmd, workflowSchemaCmd)
	rootCmd.AddCommand(workflowCmd)
}
