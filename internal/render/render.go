// Package render formats runtime listings for the terminal.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/kingrea/lattice-org/internal/actor"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF")).
			Padding(0, 1)
	cellStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA")).
			Padding(0, 1)
	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Padding(0, 1)
	noteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

var roleOrder = map[string]int{"meeting": 0, "hr": 1, "ceo": 2, "manager": 3, "ic": 4}

const failedColumn = 5

// Actors renders live actors as a table sorted by role then start time. Ages
// are measured against now.
func Actors(infos []actor.Info, now time.Time) string {
	title := titleStyle.Render(fmt.Sprintf("Actors (%d)", len(infos)))
	if len(infos) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, noteStyle.Render("No actors are running. Start one with `lattice-org start`."))
	}
	sorted := append([]actor.Info(nil), infos...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := rank(sorted[i].Role), rank(sorted[j].Role)
		if ri != rj {
			return ri < rj
		}
		return sorted[i].StartedAt.Before(sorted[j].StartedAt)
	})

	rows := make([][]string, 0, len(sorted))
	failed := make(map[int]bool)
	for i, info := range sorted {
		if info.Stats.Failed > 0 {
			failed[i] = true
		}
		rows = append(rows, []string{
			info.Role,
			info.Address,
			identity(info),
			strconv.FormatInt(info.Stats.Processed, 10),
			strconv.Itoa(info.Stats.Pending),
			strconv.FormatInt(info.Stats.Failed, 10),
			Age(now.Sub(info.StartedAt)),
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))).
		Headers("ROLE", "ADDRESS", "IDENTITY", "DONE", "QUEUED", "FAILED", "AGE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == failedColumn && failed[row]:
				return failedStyle
			}
			return cellStyle
		})
	return lipgloss.JoinVertical(lipgloss.Left, title, t.Render())
}

func rank(role string) int {
	if r, ok := roleOrder[role]; ok {
		return r
	}
	return len(roleOrder)
}

func identity(info actor.Info) string {
	if info.Identity == "" {
		return "-"
	}
	return info.Identity
}

// Age prints a duration the way operators read uptime: 42s, 5m, 3h, 2d.
func Age(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// State renders a raw state snapshot as indented JSON inside a box.
func State(address string, raw json.RawMessage) string {
	var buf bytes.Buffer
	body := string(raw)
	if err := json.Indent(&buf, raw, "", "  "); err == nil {
		body = buf.String()
	}
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(address), boxStyle.Render(body))
}

// Lines renders log lines under a title.
func Lines(title string, lines []string) string {
	head := titleStyle.Render(title)
	if len(lines) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, head, noteStyle.Render("(empty)"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, head, cellStyle.UnsetPadding().Render(strings.Join(lines, "\n")))
}
