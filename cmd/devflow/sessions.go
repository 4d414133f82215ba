package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexcabrera/devflow/internal/config"
	"github.com/alexcabrera/devflow/internal/kv"
	"github.com/alexcabrera/devflow/internal/session"
	"github.com/alexcabrera/devflow/internal/ui"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "Start and manage workflow sessions",
	}

	cmd.AddCommand(newSessionsStartCmd(a))
	cmd.AddCommand(newSessionsListCmd(a))
	cmd.AddCommand(newSessionsShowCmd(a))
	cmd.AddCommand(newSessionsTransitionCmd(a, "pause", "Pause a session", (*session.Manager).Pause))
	cmd.AddCommand(newSessionsTransitionCmd(a, "resume", "Resume a paused session", (*session.Manager).Resume))
	cmd.AddCommand(newSessionsTransitionCmd(a, "complete", "Complete a session whose terminal stage is done", (*session.Manager).Complete))
	cmd.AddCommand(newSessionsCloseCmd(a))
	cmd.AddCommand(newSessionsDeleteCmd(a))
	cmd.AddCommand(newSessionsSwitchCmd(a))
	cmd.AddCommand(newSessionsCurrentCmd(a))

	return cmd
}

func newSessionsStartCmd(a *app) *cobra.Command {
	var name, taskID string
	var values []string
	var noCurrent bool

	cmd := &cobra.Command{
		Use:   "start <workflow>",
		Short: "Start a session on the first stage of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := parseAssignments(values)
			if err != nil {
				return err
			}
			return a.withServices(cmd, func(cfg config.Config, services *session.Services) error {
				sess, err := services.Sessions.Create(cmd.Context(), session.CreateParams{
					Workflow:    args[0],
					Name:        name,
					TaskID:      taskID,
					Context:     initial,
					MakeCurrent: cfg.AutoCurrent && !noCurrent,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, sess)
				}
				styles := ui.DefaultStyles()
				fmt.Fprintf(out, "%s Started session %s (%s)\n",
					styles.Success.Render(ui.IconSuccess), styles.Title.Render(sess.Name), styles.ID.Render(ui.ShortID(sess.ID)))

				guide, err := services.Sessions.Guidance(cmd.Context(), sess.ID)
				if err != nil {
					return err
				}
				fmt.Fprint(out, ui.RenderMarkdown(guide.Markdown()))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "session name (default: workflow name)")
	cmd.Flags().StringVar(&taskID, "task", "", "external task reference")
	cmd.Flags().StringArrayVarP(&values, "set", "c", nil, "initial context value as key=value (repeatable)")
	cmd.Flags().BoolVar(&noCurrent, "no-current", false, "do not make the new session current")

	return cmd
}

func newSessionsListCmd(a *app) *cobra.Command {
	var status, workflowRef string
	var limit int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := session.Filter{Limit: limit}
			if status != "" {
				st, err := session.ParseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = st
			}
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				if workflowRef != "" {
					w, err := services.Workflows.Resolve(cmd.Context(), workflowRef)
					if err != nil {
						return err
					}
					filter.WorkflowID = w.ID
				}
				sessions, err := services.Sessions.List(cmd.Context(), filter)
				if err != nil {
					return fmt.Errorf("failed to list sessions: %w", err)
				}

				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, sessions)
				}
				if len(sessions) == 0 {
					fmt.Fprintln(out, "No sessions found")
					return nil
				}

				styles := ui.DefaultStyles()
				now := time.Now()
				printHeader(out, styles, "Sessions")
				for _, s := range sessions {
					current := " "
					if s.IsCurrent {
						current = styles.Success.Render(ui.IconCurrent)
					}
					stageKey := s.CurrentStageID
					if i := strings.LastIndex(stageKey, ":"); i >= 0 {
						stageKey = stageKey[i+1:]
					}
					fmt.Fprintf(out, "%s %s  %s  %s\n",
						current,
						styles.ID.Render(ui.ShortID(s.ID)),
						styles.Title.Render(ui.TruncateWithEllipsis(s.Name, 40)),
						styles.StatusStyle(string(s.Status)).Render(ui.StatusIcon(string(s.Status))+" "+string(s.Status)),
					)
					fmt.Fprintf(out, "    %s  %s\n",
						styles.Value.Render(stageKey),
						styles.Muted.Render(ui.FormatTimeAgo(s.UpdatedAt, now)),
					)
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "  %s\n\n", styles.Muted.Render(fmt.Sprintf("%d sessions", len(sessions))))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, paused, completed, closed)")
	cmd.Flags().StringVarP(&workflowRef, "workflow", "w", "", "filter by workflow id or name")
	cmd.Flags().Int64VarP(&limit, "limit", "n", 20, "maximum number of sessions to show (0 for all)")

	return cmd
}

func newSessionsShowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [session]",
		Short: "Show a session with its stage history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, argOrEmpty(args))
				if err != nil {
					return err
				}
				snap, err := services.Sessions.Status(cmd.Context(), sess.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, snap)
				}

				styles := ui.DefaultStyles()
				s := snap.Session
				printHeader(out, styles, "Session "+s.Name)
				printField(out, styles, "ID", s.ID)
				printField(out, styles, "Workflow", snap.Workflow.Name+" v"+snap.Workflow.Version)
				printField(out, styles, "Status", string(s.Status))
				printField(out, styles, "Stage", snap.Guidance.Stage.Name)
				printField(out, styles, "Progress", ui.ProgressBar(snap.Guidance.Progress, 20)+" "+ui.Percent(snap.Guidance.Progress))
				if s.TaskID != "" {
					printField(out, styles, "Task", s.TaskID)
				}
				if s.CloseReason != "" {
					printField(out, styles, "Reason", s.CloseReason)
				}
				printField(out, styles, "Created", ui.FormatTime(s.CreatedAt))
				printField(out, styles, "Updated", ui.FormatTime(s.UpdatedAt))
				fmt.Fprintln(out)

				if len(snap.Instances) > 0 {
					fmt.Fprintln(out, styles.Header.Render("  History"))
					for _, inst := range snap.Instances {
						fmt.Fprintf(out, "  %s %s  %s\n",
							styles.StatusStyle(string(inst.Status)).Render(ui.StatusIcon(string(inst.Status))),
							styles.Title.Render(inst.Name),
							styles.Muted.Render(fmt.Sprintf("%s, %d items, %d deliverables",
								inst.Status, len(inst.CompletedItems), len(inst.Deliverables))),
						)
					}
					fmt.Fprintln(out)
				}

				if keys := s.Context.Keys(); len(keys) > 0 {
					fmt.Fprintln(out, styles.Header.Render("  Context"))
					for _, k := range keys {
						printField(out, styles, k, s.Context[k].Text())
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}

	return cmd
}

type transitionFunc func(*session.Manager, context.Context, string) (session.Session, error)

func newSessionsTransitionCmd(a *app, use, short string, fn transitionFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " [session]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, argOrEmpty(args))
				if err != nil {
					return err
				}
				updated, err := fn(services.Sessions, cmd.Context(), sess.ID)
				if err != nil {
					return err
				}
				return printSessionStatus(cmd, a, updated)
			})
		},
	}
	return cmd
}

func newSessionsCloseCmd(a *app) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "close [session]",
		Short: "Abandon a session before it completes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, argOrEmpty(args))
				if err != nil {
					return err
				}
				closed, err := services.Sessions.Close(cmd.Context(), sess.ID, reason)
				if err != nil {
					return err
				}
				return printSessionStatus(cmd, a, closed)
			})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the session was closed")

	return cmd
}

func newSessionsDeleteCmd(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete a session and its stage history",
		Long: `Delete a session and its stage history. Sessions that are still active or
paused are only deleted with --force.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := services.Sessions.Resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !force {
					if err := confirm(
						fmt.Sprintf("Delete session %q?", sess.Name),
						fmt.Sprintf("ID: %s (%s)", ui.ShortID(sess.ID), sess.Status),
					); err != nil {
						return err
					}
				}
				if err := services.Sessions.Delete(cmd.Context(), sess.ID, force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", ui.ShortID(sess.ID))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "delete without confirmation, even if still open")

	return cmd
}

func newSessionsSwitchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "switch [session]",
		Short: "Make a session the current session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				var (
					sess session.Session
					err  error
				)
				if len(args) == 1 {
					sess, err = services.Sessions.Resolve(cmd.Context(), args[0])
				} else {
					sess, err = pickSession(cmd.Context(), services, "Switch to session:")
				}
				if err != nil {
					return err
				}
				sess, err = services.Sessions.SwitchCurrent(cmd.Context(), sess.ID)
				if err != nil {
					return err
				}
				return printSessionStatus(cmd, a, sess)
			})
		},
	}
	return cmd
}

func newSessionsCurrentCmd(a *app) *cobra.Command {
	var clearCurrent bool

	cmd := &cobra.Command{
		Use:   "current",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				if clearCurrent {
					if err := services.Sessions.ClearCurrent(cmd.Context()); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), "No current session")
					return nil
				}
				sess, err := services.Sessions.Current(cmd.Context())
				if err != nil {
					return err
				}
				return printSessionStatus(cmd, a, sess)
			})
		},
	}

	cmd.Flags().BoolVar(&clearCurrent, "clear", false, "leave no session current")

	return cmd
}

func printSessionStatus(cmd *cobra.Command, a *app, s session.Session) error {
	out := cmd.OutOrStdout()
	if a.jsonOut {
		return printJSON(out, s)
	}
	styles := ui.DefaultStyles()
	fmt.Fprintf(out, "%s %s  %s\n",
		styles.ID.Render(ui.ShortID(s.ID)),
		styles.Title.Render(s.Name),
		styles.StatusStyle(string(s.Status)).Render(string(s.Status)),
	)
	return nil
}

// parseAssignments turns key=value arguments into a context map.
func parseAssignments(args []string) (kv.Map, error) {
	out := kv.Map{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected key=value", arg)
		}
		out[key] = kv.Parse(value)
	}
	return out, nil
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
