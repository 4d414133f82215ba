package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alexcabrera/devflow/internal/config"
	"github.com/alexcabrera/devflow/internal/session"
	"github.com/alexcabrera/devflow/internal/ui"
)

func newStageCmd(a *app) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Work through the current stage of a session",
	}
	sessionFlag(cmd, &ref)

	cmd.AddCommand(newStageStatusCmd(a, &ref))
	cmd.AddCommand(newStageCheckCmd(a, &ref))
	cmd.AddCommand(newStageDeliverCmd(a, &ref))
	cmd.AddCommand(newStageAdvanceCmd(a, &ref))
	cmd.AddCommand(newStageSkipCmd(a, &ref))

	return cmd
}

func newStageStatusCmd(a *app, ref *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current stage and what to do next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, *ref)
				if err != nil {
					return err
				}
				guide, err := services.Sessions.Guidance(cmd.Context(), sess.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, guide)
				}
				styles := ui.DefaultStyles()
				fmt.Fprintf(out, "%s  %s  %s %s\n",
					styles.Title.Render(sess.Name),
					styles.Muted.Render(guide.Workflow),
					ui.ProgressBar(guide.Progress, 20),
					ui.Percent(guide.Progress),
				)
				fmt.Fprint(out, ui.RenderMarkdown(guide.Markdown()))
				return nil
			})
		},
	}
	return cmd
}

func newStageCheckCmd(a *app, ref *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <item>...",
		Short: "Mark checklist items of the current stage as done",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, *ref)
				if err != nil {
					return err
				}
				inst, ignored, err := services.Sessions.RecordItems(cmd.Context(), sess.ID, args)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, map[string]any{"instance": inst, "ignored": ignored})
				}
				styles := ui.DefaultStyles()
				for _, item := range inst.CompletedItems {
					fmt.Fprintf(out, "%s %s\n", styles.Success.Render(ui.IconSuccess), item)
				}
				for _, item := range ignored {
					fmt.Fprintf(out, "%s %s %s\n", styles.Warning.Render(ui.IconWarning), item, styles.Muted.Render("(not on the checklist)"))
				}

				guide, err := services.Sessions.Guidance(cmd.Context(), sess.ID)
				if err != nil {
					return err
				}
				if len(guide.Outstanding) == 0 {
					fmt.Fprintln(out, styles.Muted.Render("Checklist done, run 'devflow stage advance'"))
				} else {
					fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("%d item(s) left", len(guide.Outstanding))))
				}
				return nil
			})
		},
	}
	return cmd
}

func newStageDeliverCmd(a *app, ref *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliver <description>",
		Short: "Record a deliverable produced in the current stage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, *ref)
				if err != nil {
					return err
				}
				inst, err := services.Sessions.RecordDeliverable(cmd.Context(), sess.ID, strings.Join(args, " "))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, inst)
				}
				styles := ui.DefaultStyles()
				fmt.Fprintf(out, "%s Recorded deliverable for %s (%d total)\n",
					styles.Success.Render(ui.IconSuccess), inst.Name, len(inst.Deliverables))
				return nil
			})
		},
	}
	return cmd
}

func newStageAdvanceCmd(a *app, ref *string) *cobra.Command {
	var opts session.AdvanceOptions

	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Close the current stage and enter the next one",
		Long: `Close the current stage and enter the next one. The checklist must be done
unless --force is given. When the current stage leads to several stages, the
one with the lowest order is chosen unless --to names another.

The advance is rejected when the session changed after it was read, either
since --version or since the lookup this command makes itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, *ref)
				if err != nil {
					return err
				}
				res, err := services.Sessions.Advance(cmd.Context(), sess.ID, expectPosition(opts, sess))
				if err != nil {
					return err
				}
				return printStep(cmd, a, services, res)
			})
		},
	}

	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "advance with unchecked items")
	cmd.Flags().StringVar(&opts.Target, "to", "", "next stage key when several are possible")
	cmd.Flags().StringVar(&opts.From, "from", "", "only advance if this stage key is current")
	cmd.Flags().Int64Var(&opts.Version, "version", 0, "only advance if the session is still at this version")

	return cmd
}

func newStageSkipCmd(a *app, ref *string) *cobra.Command {
	var opts session.AdvanceOptions

	cmd := &cobra.Command{
		Use:   "skip",
		Short: "Skip the current stage and enter the next one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, *ref)
				if err != nil {
					return err
				}
				res, err := services.Sessions.Skip(cmd.Context(), sess.ID, expectPosition(opts, sess))
				if err != nil {
					return err
				}
				return printStep(cmd, a, services, res)
			})
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "only skip if this stage key is current")
	cmd.Flags().Int64Var(&opts.Version, "version", 0, "only skip if the session is still at this version")

	return cmd
}

// expectPosition pins opts to the session as it was read when the caller
// gave neither --from nor --version.
func expectPosition(opts session.AdvanceOptions, sess session.Session) session.AdvanceOptions {
	if opts.From == "" && opts.Version == 0 {
		opts.Version = sess.Version
	}
	return opts
}

func printStep(cmd *cobra.Command, a *app, services *session.Services, res session.StepResult) error {
	out := cmd.OutOrStdout()
	if a.jsonOut {
		return printJSON(out, res)
	}
	styles := ui.DefaultStyles()
	fmt.Fprintf(out, "%s %s %s\n",
		styles.StatusStyle(string(res.Closed.Status)).Render(ui.StatusIcon(string(res.Closed.Status))),
		res.Closed.Name,
		styles.Muted.Render(strings.ToLower(string(res.Closed.Status))),
	)
	if len(res.Outstanding) > 0 {
		fmt.Fprintf(out, "  %s left unchecked: %s\n", styles.Warning.Render(ui.IconWarning), strings.Join(res.Outstanding, ", "))
	}
	if res.Entered == nil {
		fmt.Fprintln(out, styles.Success.Render("Terminal stage done, run 'devflow sessions complete'"))
		return nil
	}
	fmt.Fprintf(out, "%s %s\n", ui.IconArrowRight, styles.Title.Render(res.Entered.Name))

	guide, err := services.Sessions.Guidance(cmd.Context(), res.Session.ID)
	if err != nil {
		return err
	}
	fmt.Fprint(out, ui.RenderMarkdown(guide.Markdown()))
	return nil
}
