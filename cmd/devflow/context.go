package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexcabrera/devflow/internal/config"
	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/session"
)

func newContextCmd(a *app) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Read and write the key-value context of a session",
	}
	sessionFlag(cmd, &ref)

	cmd.AddCommand(newContextGetCmd(a, &ref))
	cmd.AddCommand(newContextSetCmd(a, &ref))
	cmd.AddCommand(newContextClearCmd(a, &ref))

	return cmd
}

func newContextGetCmd(a *app, ref *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Print the context, or a single value",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, *ref)
				if err != nil {
					return err
				}
				values, err := services.Sessions.GetContext(cmd.Context(), sess.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(args) == 1 {
					v, ok := values[args[0]]
					if !ok {
						return flowerr.NotFound("context key %s not set", args[0])
					}
					if a.jsonOut {
						return printJSON(out, v)
					}
					fmt.Fprintln(out, v.Text())
					return nil
				}
				if a.jsonOut {
					return printJSON(out, values)
				}
				for _, k := range values.Keys() {
					fmt.Fprintf(out, "%s=%s\n", k, values[k].Text())
				}
				return nil
			})
		},
	}
	return cmd
}

func newContextSetCmd(a *app, ref *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key=value>...",
		Short: "Merge values into the context",
		Long: `Merge values into the context. Values are read as numbers, booleans or
JSON objects when they parse as such, and as strings otherwise.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := parseAssignments(args)
			if err != nil {
				return err
			}
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, *ref)
				if err != nil {
					return err
				}
				merged, err := services.Sessions.UpdateContext(cmd.Context(), sess.ID, patch)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if a.jsonOut {
					return printJSON(out, merged)
				}
				for _, k := range patch.Keys() {
					fmt.Fprintf(out, "%s=%s\n", k, merged[k].Text())
				}
				return nil
			})
		},
	}
	return cmd
}

func newContextClearCmd(a *app, ref *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every context value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withServices(cmd, func(_ config.Config, services *session.Services) error {
				sess, err := resolveSession(cmd.Context(), services, *ref)
				if err != nil {
					return err
				}
				if err := services.Sessions.ClearContext(cmd.Context(), sess.ID); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Context cleared")
				return nil
			})
		},
	}
	return cmd
}
