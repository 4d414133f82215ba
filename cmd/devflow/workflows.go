package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/alexcabrera/devflow/internal/builtin"
	"github.com/alexcabrera/devflow/internal/config"
	"github.com/alexcabrera/devflow/internal/paths"
	"github.com/alexcabrera/devflow/internal/pipe"
	"github.com/alexcabrera/devflow/internal/session"
	"github.com/alexcabrera/devflow/internal/ui"
	"github.com/alexcabrera/devflow/internal/workflow"
)

func newWorkflowsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workflows",
		Aliases: []string{"workflow", "wf"},
		Short:   "Manage workflow definitions",
	}

	cmd.AddCommand(newWorkflowsListCmd(a))
	cmd.AddCommand(newWorkflowsShowCmd(a))
	cmd.AddCommand(newWorkflowsCreateCmd(a))
	cmd.AddCommand(newWorkflowsDeleteCmd(a))
	cmd.AddCommand(newWorkflowsExportCmd())

	return cmd
}

func newWorkflowsListCmd(a *app) *cobra.Command {
	var flowType string
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				workflows, err := services.Workflows.List(cmd.Context(), workflow.Filter{
					FlowType:   flowType,
					LatestOnly: !all,
				})
				if err != nil {
					return fmt.Errorf("failed to list workflows: %w", err)
				}

				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, workflows)
				}
				if len(workflows) == 0 {
					fmt.Fprintln(out, "No workflows found")
					return nil
				}

				styles := ui.DefaultStyles()
				printHeader(out, styles, "Workflows")
				for _, w := range workflows {
					fmt.Fprintf(out, "  %s  %s  %s\n",
						styles.Title.Render(w.Name),
						styles.Muted.Render("v"+w.Version),
						styles.ID.Render(ui.ShortID(w.ID)),
					)
					keys := make([]string, len(w.Stages))
					for i, st := range w.Stages {
						keys[i] = st.Key
					}
					fmt.Fprintf(out, "    %s\n", styles.Value.Render(strings.Join(keys, " "+ui.IconArrowRight+" ")))
					if w.Description != "" {
						fmt.Fprintf(out, "    %s\n", styles.Muted.Render(ui.TruncateWithEllipsis(w.Description, 70)))
					}
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "  %s\n\n", styles.Muted.Render(fmt.Sprintf("%d workflows", len(workflows))))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&flowType, "type", "t", "", "filter by flow type")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include older versions")

	return cmd
}

func newWorkflowsShowCmd(a *app) *cobra.Command {
	var asYAML bool

	cmd := &cobra.Command{
		Use:   "show <workflow>",
		Short: "Show a workflow's stages and transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				w, err := services.Workflows.Resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, w)
				}
				if asYAML {
					data, err := yaml.Marshal(workflow.DocumentFor(w))
					if err != nil {
						return fmt.Errorf("encode definition: %w", err)
					}
					_, err = out.Write(data)
					return err
				}

				styles := ui.DefaultStyles()
				printHeader(out, styles, w.Name+" v"+w.Version)
				printField(out, styles, "ID", w.ID)
				if w.FlowType != "" {
					printField(out, styles, "Type", w.FlowType)
				}
				if w.Description != "" {
					printField(out, styles, "Description", w.Description)
				}
				fmt.Fprintln(out)

				for _, st := range w.Stages {
					marker := ui.IconBullet
					if st.IsEnd {
						marker = ui.IconComplete
					}
					fmt.Fprintf(out, "  %s %s %s\n", marker, styles.Title.Render(st.Name), styles.ID.Render("("+st.Key+")"))
					if desc := strings.TrimSpace(st.Description); desc != "" {
						fmt.Fprintln(out, styles.Muted.Render(ui.IndentText(desc, "      ")))
					}
					for _, item := range st.Checklist {
						fmt.Fprintf(out, "      %s %s\n", ui.IconPending, item)
					}
					for _, d := range st.Deliverables {
						fmt.Fprintf(out, "      %s %s\n", styles.Muted.Render("deliverable:"), d)
					}
					for _, next := range w.Successors(st.ID) {
						line := ui.IconArrowRight + " " + next.Key
						for _, tr := range w.Outgoing(st.ID) {
							if tr.ToStage == next.ID && tr.Condition != "" {
								line += " when " + tr.Condition
							}
						}
						fmt.Fprintf(out, "      %s\n", styles.Muted.Render(line))
					}
				}
				fmt.Fprintln(out)

				for _, warning := range workflow.Lint(w) {
					fmt.Fprintf(out, "  %s %s\n", styles.Warning.Render(ui.IconWarning), warning)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the definition as YAML")

	return cmd
}

func newWorkflowsCreateCmd(a *app) *cobra.Command {
	var file string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "create --file <definition.yaml>",
		Short: "Publish a workflow from a YAML definition",
		Long: `Publish a workflow from a YAML definition file. Use "--file -" to read the
definition from stdin, which is also the default when input is piped.
Definitions are validated as a whole: nothing is stored unless every stage
and transition is valid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				if !pipe.IsStdinPiped() {
					return fmt.Errorf("--file is required unless a definition is piped on stdin")
				}
				file = pipe.StdinPath
			}
			data, err := pipe.ReadInput(file)
			if err != nil {
				return err
			}
			params, err := workflow.ParseDefinition(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			styles := ui.DefaultStyles()
			if dryRun {
				if err := workflow.Validate(params); err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %s is valid\n", styles.Success.Render(ui.IconSuccess), params.Name)
				return nil
			}

			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				w, err := services.Workflows.Create(cmd.Context(), params)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return printJSON(out, w)
				}
				fmt.Fprintf(out, "%s Created workflow %s v%s (%s)\n",
					styles.Success.Render(ui.IconSuccess), w.Name, w.Version, ui.ShortID(w.ID))
				for _, warning := range workflow.Lint(w) {
					fmt.Fprintf(out, "  %s %s\n", styles.Warning.Render(ui.IconWarning), warning)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", `definition file, or "-" for stdin`)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate without publishing")

	return cmd
}

func newWorkflowsDeleteCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <workflow>",
		Short: "Delete a workflow that no session uses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(cfg config.Config, services *session.Services) error {
				w, err := services.Workflows.Resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !force {
					if err := confirm(
						fmt.Sprintf("Delete workflow %q?", w.Name),
						fmt.Sprintf("Version %s, %d stages", w.Version, len(w.Stages)),
					); err != nil {
						return err
					}
				}
				if err := services.Workflows.Delete(cmd.Context(), w.ID); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Deleted workflow %s v%s\n", w.Name, w.Version)
				if cfg.InstallBuiltin && builtin.Has(w.Name) {
					styles := ui.DefaultStyles()
					fmt.Fprintf(out, "  %s %s\n", styles.Warning.Render(ui.IconWarning),
						"built-in workflow, it is installed again on the next run unless install_builtin is false")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete without confirmation")

	return cmd
}

func newWorkflowsExportCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "export [dir]",
		Short: "Write the built-in workflow definitions as editable YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := paths.WorkflowsDir()
			if len(args) == 1 {
				dir = args[0]
			}
			written, err := builtin.Extract(dir, force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(written) == 0 {
				fmt.Fprintf(out, "Nothing written to %s (files exist, use --force)\n", dir)
				return nil
			}
			for _, path := range written {
				fmt.Fprintf(out, "Wrote %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")

	return cmd
}
