package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// WriteSummary prints the report counts for the terminal. Styling follows
// the color profile detected for w.
func WriteSummary(w io.Writer, data Data) error {
	r := lipgloss.NewRenderer(w)
	title := r.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"})
	label := r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}).Width(18)
	value := r.NewStyle().Bold(true)

	var b strings.Builder
	b.WriteString(title.Render(data.Title))
	b.WriteString("\n")
	row := func(name, v string) {
		b.WriteString(label.Render(name))
		b.WriteString(value.Render(v))
		b.WriteString("\n")
	}
	row("Sessions", humanize.Comma(int64(data.Summary.Sessions)))
	row("Spec files", humanize.Comma(int64(data.Summary.SpecFiles)))
	row("Navigations", humanize.Comma(int64(data.Summary.Navigations)))
	row("Unique locations", humanize.Comma(int64(data.Summary.UniqueLocations)))

	if len(data.Summary.Frameworks) > 0 {
		names := make([]string, 0, len(data.Summary.Frameworks))
		for name := range data.Summary.Frameworks {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s %d", name, data.Summary.Frameworks[name]))
		}
		row("Frameworks", strings.Join(parts, ", "))
	}
	for _, tc := range data.Summary.Types {
		row("  "+string(tc.Type), humanize.Comma(int64(tc.Count)))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
