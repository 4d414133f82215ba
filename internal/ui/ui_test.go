package ui

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultStyles(t *testing.T) {
	styles := DefaultStyles()

	if styles.Width <= 0 || styles.Width > 120 {
		t.Errorf("Width = %d, want 1..120", styles.Width)
	}

	testCases := []struct {
		name   string
		render func() string
	}{
		{"Header", func() string { return styles.Header.Render("test") }},
		{"Title", func() string { return styles.Title.Render("test") }},
		{"Label", func() string { return styles.Label.Render("test") }},
		{"Value", func() string { return styles.Value.Render("test") }},
		{"ID", func() string { return styles.ID.Render("test") }},
		{"Muted", func() string { return styles.Muted.Render("test") }},
		{"Success", func() string { return styles.Success.Render("test") }},
		{"Warning", func() string { return styles.Warning.Render("test") }},
		{"Error", func() string { return styles.Error.Render("test") }},
		{"Status", func() string { return styles.StatusStyle("active").Render("test") }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if !strings.Contains(tc.render(), "test") {
				t.Errorf("%s did not render its text", tc.name)
			}
		})
	}
}

func TestStatusIcon(t *testing.T) {
	tests := map[string]string{
		"RUNNING":   IconRunning,
		"active":    IconRunning,
		"COMPLETED": IconComplete,
		"SKIPPED":   IconSkipped,
		"PAUSED":    IconWarning,
		"CLOSED":    IconError,
		"PENDING":   IconPending,
	}
	for status, want := range tests {
		if got := StatusIcon(status); got != want {
			t.Errorf("StatusIcon(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestProgressBar(t *testing.T) {
	if got := ProgressBar(0.5, 0); got != "" {
		t.Errorf("ProgressBar width 0 = %q, want empty", got)
	}
	for _, fraction := range []float64{-1, 0, 0.5, 1, 2} {
		bar := ProgressBar(fraction, 10)
		if n := strings.Count(bar, "█") + strings.Count(bar, "░"); n != 10 {
			t.Errorf("ProgressBar(%v) has %d cells, want 10", fraction, n)
		}
	}
	if full := ProgressBar(1, 4); strings.Count(full, "█") != 4 {
		t.Errorf("ProgressBar(1) = %q, want 4 filled cells", full)
	}
}

func TestTruncateWithEllipsis(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 2, "ab"},
	}
	for _, tt := range tests {
		if got := TruncateWithEllipsis(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateWithEllipsis(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestIndentText(t *testing.T) {
	got := IndentText("a\n\nb", "  ")
	if got != "  a\n\n  b" {
		t.Errorf("IndentText = %q", got)
	}
}

func TestFormatTimeAgo(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{time.Minute, "1 min ago"},
		{5 * time.Minute, "5 mins ago"},
		{time.Hour, "1 hour ago"},
		{3 * time.Hour, "3 hours ago"},
		{25 * time.Hour, "yesterday"},
		{3 * 24 * time.Hour, "3 days ago"},
	}
	for _, tt := range tests {
		if got := FormatTimeAgo(now.Add(-tt.ago), now); got != tt.want {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestShortIDAndPercent(t *testing.T) {
	if got := ShortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("ShortID = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID short = %q", got)
	}
	if got := Percent(0.333); got != "33%" {
		t.Errorf("Percent(0.333) = %q", got)
	}
	if got := Percent(1); got != "100%" {
		t.Errorf("Percent(1) = %q", got)
	}
}

func TestRenderMarkdownKeepsText(t *testing.T) {
	out := RenderMarkdown("# Build\n\n- [ ] tests\n")
	if !strings.Contains(out, "Build") || !strings.Contains(out, "tests") {
		t.Errorf("RenderMarkdown lost content: %q", out)
	}
}
