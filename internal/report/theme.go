package report

import "github.com/charmbracelet/lipgloss"

// Theme defines all colors used by the terminal report.
// Use DarkTheme() or LightTheme() to get a pre-built theme,
// or construct a custom Theme.
type Theme struct {
	Primary   lipgloss.Color // title, fallacy names
	Secondary lipgloss.Color // excerpts
	Error     lipgloss.Color // failed state
	Warning   lipgloss.Color // in-progress state
	Success   lipgloss.Color // completed state
	Info      lipgloss.Color // links
	Text      lipgloss.Color // primary text
	TextMuted lipgloss.Color // labels, timestamps, ids
	Border    lipgloss.Color // separators, excerpt bar
}

// DarkTheme returns the default theme for dark terminal backgrounds.
func DarkTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#fab283"),
		Secondary: lipgloss.Color("#5c9cf5"),
		Error:     lipgloss.Color("#e06c75"),
		Warning:   lipgloss.Color("#f5a742"),
		Success:   lipgloss.Color("#7fd88f"),
		Info:      lipgloss.Color("#56b6c2"),
		Text:      lipgloss.Color("#eeeeee"),
		TextMuted: lipgloss.Color("#808080"),
		Border:    lipgloss.Color("#484848"),
	}
}

// LightTheme returns a light theme for bright terminal backgrounds.
func LightTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#b35c00"),
		Secondary: lipgloss.Color("#0550ae"),
		Error:     lipgloss.Color("#cf222e"),
		Warning:   lipgloss.Color("#bf8700"),
		Success:   lipgloss.Color("#116329"),
		Info:      lipgloss.Color("#0969da"),
		Text:      lipgloss.Color("#1f2328"),
		TextMuted: lipgloss.Color("#656d76"),
		Border:    lipgloss.Color("#d0d7de"),
	}
}

// ThemeByName returns a theme by name. Defaults to dark.
func ThemeByName(name string) Theme {
	switch name {
	case "light":
		return LightTheme()
	default:
		return DarkTheme()
	}
}

// styles holds all lipgloss styles derived from a Theme.
type styles struct {
	title     lipgloss.Style
	label     lipgloss.Style
	text      lipgloss.Style
	dim       lipgloss.Style
	fallacy   lipgloss.Style
	excerpt   lipgloss.Style
	link      lipgloss.Style
	completed lipgloss.Style
	failed    lipgloss.Style
	progress  lipgloss.Style
	idle      lipgloss.Style
}

// newStyles builds all styles from a theme.
func newStyles(t Theme) styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		label:   lipgloss.NewStyle().Foreground(t.TextMuted),
		text:    lipgloss.NewStyle().Foreground(t.Text),
		dim:     lipgloss.NewStyle().Foreground(t.TextMuted),
		fallacy: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		excerpt: lipgloss.NewStyle().Italic(true).Foreground(t.Secondary).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(t.Border).PaddingLeft(1),
		link:      lipgloss.NewStyle().Underline(true).Foreground(t.Info),
		completed: lipgloss.NewStyle().Foreground(t.Success),
		failed:    lipgloss.NewStyle().Foreground(t.Error),
		progress:  lipgloss.NewStyle().Foreground(t.Warning),
		idle:      lipgloss.NewStyle().Foreground(t.TextMuted),
	}
}

func (s styles) state(st string) lipgloss.Style {
	switch st {
	case "completed":
		return s.completed
	case "failed":
		return s.failed
	case "in_progress":
		return s.progress
	default:
		return s.idle
	}
}
