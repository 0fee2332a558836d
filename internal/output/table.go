package output

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/blackwell-systems/pacache/internal/pacscript"
)

// RenderPacscriptTable renders one line per pacscript row in the given order.
func RenderPacscriptTable(rows []*pacscript.Pacscript) string {
	if len(rows) == 0 {
		return "No pacscripts found.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-28s %-15s %-16s %-10s %s\n",
		"Pacscript", "Status", "Version", "Download", "Updated"))
	sb.WriteString(strings.Repeat("─", 84))
	sb.WriteString("\n")

	for _, p := range rows {
		// Pad before coloring so escape codes do not break alignment.
		status := colorize(statusColor(p.InstallStatus), fmt.Sprintf("%-15s", p.InstallStatus))
		sb.WriteString(fmt.Sprintf("%-28s %s %-16s %-10s %s\n",
			truncate(p.Name, 28),
			status,
			truncate(p.Version, 16),
			formatSize(p.DownloadSize),
			formatRelativeTime(p.Date)))
	}

	return sb.String()
}

// RenderPacscriptDetail renders every attribute of each row, one block per row.
func RenderPacscriptDetail(rows []*pacscript.Pacscript) string {
	if len(rows) == 0 {
		return "No pacscripts found.\n"
	}

	var sb strings.Builder
	for i, p := range rows {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("%s %s\n", p.Name, colorize(statusColor(p.InstallStatus), "("+p.InstallStatus.String()+")")))
		field(&sb, "Version", p.Version)
		field(&sb, "Description", p.Description)
		field(&sb, "URL", p.URL)
		field(&sb, "Homepage", p.Homepage)
		field(&sb, "Maintainer", p.Maintainer)
		field(&sb, "Source", p.Source)
		field(&sb, "Download size", formatSize(p.DownloadSize))
		if p.InstalledSize != nil {
			field(&sb, "Installed size", formatSize(*p.InstalledSize))
		}
		field(&sb, "Date", p.Date.Format(time.RFC3339)+" ("+formatRelativeTime(p.Date)+")")
		field(&sb, "Repology", formatMap(p.Repology))
		field(&sb, "APT deps", strings.Join(p.APTDependencies, ", "))
		field(&sb, "APT optional", formatMap(p.APTOptionalDependencies))
		field(&sb, "Pacscript deps", strings.Join(p.PacscriptDependencies, ", "))
		field(&sb, "Pacscript optional", formatMap(p.PacscriptOptionalDependencies))
	}
	return sb.String()
}

// field writes an indented "label: value" line, skipping empty values.
func field(sb *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	sb.WriteString(fmt.Sprintf("  %-19s %s\n", label+":", value))
}

// RenderSourceTable renders sources in the given order.
func RenderSourceTable(sources []*pacscript.Source) string {
	if len(sources) == 0 {
		return "No sources registered.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-52s %-10s %s\n", "Source", "Preference", "Last Updated"))
	sb.WriteString(strings.Repeat("─", 80))
	sb.WriteString("\n")

	for _, src := range sources {
		sb.WriteString(fmt.Sprintf("%-52s %-10d %s\n",
			truncate(src.URL, 52),
			src.Preference,
			formatRelativeTime(src.LastUpdated)))
	}

	return sb.String()
}

// RenderDependencyTable renders catalog entries with their dependent counts.
func RenderDependencyTable(deps []pacscript.DependencyUsage) string {
	if len(deps) == 0 {
		return "No dependencies recorded.\n"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%-10s %-36s %s\n", "Kind", "Dependency", "Used By"))
	sb.WriteString(strings.Repeat("─", 60))
	sb.WriteString("\n")

	for _, d := range deps {
		usedBy := formatDepCount(d.Dependents)
		if d.Dependents == 0 {
			usedBy = colorize(colorGray, usedBy+" (unused)")
		}
		sb.WriteString(fmt.Sprintf("%-10s %-36s %s\n", d.Kind, truncate(d.Name, 36), usedBy))
	}

	return sb.String()
}

// RenderDependents renders the rows that require a dependency.
func RenderDependents(kind pacscript.DependencyKind, name string, keys []pacscript.Key) string {
	if len(keys) == 0 {
		return fmt.Sprintf("Nothing requires %s dependency %s.\n", kind, name)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s dependency %s is required by %s:\n", kind, name, formatDepCount(len(keys))))
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %s\n", k))
	}
	return sb.String()
}

// RenderSettings renders resolved settings and the configured repositories.
func RenderSettings(path string, jobs int, editor string, repositories map[string]string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Config: %s\n\n", path))
	sb.WriteString("[settings]\n")
	sb.WriteString(fmt.Sprintf("  %-8s %d\n", "jobs", jobs))
	sb.WriteString(fmt.Sprintf("  %-8s %q\n", "editor", editor))
	sb.WriteString("\n[repository]\n")

	if len(repositories) == 0 {
		sb.WriteString(colorize(colorGray, "  (none)") + "\n")
		return sb.String()
	}

	names := make([]string, 0, len(repositories))
	width := 0
	for name := range repositories {
		names = append(names, name)
		if len(name) > width {
			width = len(name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sb.WriteString(fmt.Sprintf("  %-*s %s\n", width, name, repositories[name]))
	}
	return sb.String()
}

// RenderWarnings renders validator warnings, or a success line when there
// are none.
func RenderWarnings(warnings []string) string {
	if len(warnings) == 0 {
		return colorize(colorGreen, "✓ config is valid") + "\n"
	}

	var sb strings.Builder
	sb.WriteString(colorize(colorGreen, "✓ config is valid") + fmt.Sprintf(" with %d warning(s):\n", len(warnings)))
	for _, w := range warnings {
		sb.WriteString(colorize(colorYellow, "  ⚠ ") + w + "\n")
	}
	return sb.String()
}

func statusColor(s pacscript.InstallStatus) string {
	switch s {
	case pacscript.Direct:
		return colorGreen
	case pacscript.Indirect:
		return colorYellow
	default:
		return colorGray
	}
}

// formatDepCount formats a dependent count for display.
func formatDepCount(count int) string {
	if count == 1 {
		return "1 pacscript"
	}
	return fmt.Sprintf("%d pacscripts", count)
}

func formatMap(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		if m[k] == "" {
			parts[i] = k
		} else {
			parts[i] = k + " (" + m[k] + ")"
		}
	}
	return strings.Join(parts, ", ")
}

// formatSize converts bytes to a human-readable size.
func formatSize(bytes int64) string {
	if bytes < 0 {
		return "—"
	}
	return humanize.IBytes(uint64(bytes))
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// truncate shortens s to maxLen runes, marking the cut with "...".
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
