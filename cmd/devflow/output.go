package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/alexcabrera/devflow/internal/flowerr"
	"github.com/alexcabrera/devflow/internal/pipe"
	"github.com/alexcabrera/devflow/internal/session"
	"github.com/alexcabrera/devflow/internal/ui"
)

// errCancelled is returned when the user declines a prompt.
var errCancelled = errors.New("cancelled")

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHeader(w io.Writer, styles ui.Styles, title string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, styles.Header.Render("  "+title))
	fmt.Fprintln(w, styles.Header.Render("  "+strings.Repeat("─", 60)))
	fmt.Fprintln(w)
}

func printField(w io.Writer, styles ui.Styles, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", styles.Label.Render(fmt.Sprintf("%-12s", label+":")), styles.Value.Render(value))
}

// resolveSession finds a session by id or prefix. An empty ref means the
// current session; without one, interactive terminals get a picker.
func resolveSession(ctx context.Context, services *session.Services, ref string) (session.Session, error) {
	if ref != "" {
		return services.Sessions.Resolve(ctx, ref)
	}
	sess, err := services.Sessions.Current(ctx)
	if err == nil || !errors.Is(err, flowerr.ErrNotFound) {
		return sess, err
	}
	if !pipe.IsInteractive() {
		return session.Session{}, fmt.Errorf("%w: pass a session id or run 'devflow sessions switch'", err)
	}
	return pickSession(ctx, services, "Select a session:")
}

func pickSession(ctx context.Context, services *session.Services, title string) (session.Session, error) {
	sessions, err := services.Sessions.List(ctx, session.Filter{Limit: 20})
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	var options []huh.Option[string]
	for _, s := range sessions {
		if s.Status.Finished() {
			continue
		}
		label := fmt.Sprintf("%s  %s  %s", ui.ShortID(s.ID), ui.TruncateWithEllipsis(s.Name, 30), s.Status)
		options = append(options, huh.NewOption(label, s.ID))
	}
	if len(options) == 0 {
		return session.Session{}, flowerr.NotFound("no open sessions, start one with 'devflow sessions start'")
	}

	var selectedID string
	err = huh.NewSelect[string]().
		Title(title).
		Options(options...).
		Value(&selectedID).
		Run()
	if err != nil {
		return session.Session{}, promptErr(err)
	}
	return services.Sessions.Get(ctx, selectedID)
}

// confirm asks a yes/no question. Non-interactive callers must pass --force.
func confirm(title, description string) error {
	if !pipe.IsInteractive() {
		return errors.New("refusing to prompt without a terminal, pass --force")
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Delete").
		Negative("Cancel").
		Value(&ok).
		Run()
	if err != nil {
		return promptErr(err)
	}
	if !ok {
		return errCancelled
	}
	return nil
}

func promptErr(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return errCancelled
	}
	return err
}

func sessionFlag(cmd *cobra.Command, ref *string) {
	cmd.PersistentFlags().StringVarP(ref, "session", "s", "", "session id or prefix (default: current session)")
}
