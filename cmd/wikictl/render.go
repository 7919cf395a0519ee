package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"
	"github.com/kasuganosora/gamewiki/server/content"
	"github.com/kasuganosora/gamewiki/server/crud"
	"github.com/kasuganosora/gamewiki/server/entity"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))

	rarityColors = map[string]lipgloss.Color{
		"COMMON":    "#9ca3af",
		"UNCOMMON":  "#2196F3",
		"RARE":      "#FFC107",
		"EPIC":      "#a855f7",
		"LEGENDARY": "#ff8a65",
	}
)

// listColumns are the attributes shown per row: id, display name, rarity.
func listColumns(cfg crud.Config) []string {
	return []string{cfg.IDField, cfg.NameField, cfg.RarityField}
}

func cell(e entity.Entity, field string) string {
	s := e.String(field)
	if s == "" {
		return "-"
	}
	return s
}

// clip shortens s to at most width terminal cells, ending in "...". Widths
// too small to hold the tail leave s alone.
func clip(s string, width int) string {
	if width <= 3 {
		return s
	}
	return ansi.Truncate(s, width, "...")
}

// renderList draws one page of a snapshot and its paging footer.
func renderList(snap crud.Snapshot, cfg crud.Config) string {
	cols := listColumns(cfg)
	rows := make([][]string, 0, len(snap.Items))
	for _, e := range snap.Items {
		row := make([]string, len(cols))
		for i, f := range cols {
			row[i] = cell(e, f)
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers(cols...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 && row >= 0 && row < len(rows) {
				if c, ok := rarityColors[rows[row][col]]; ok {
					return cellStyle.Foreground(c)
				}
			}
			return cellStyle
		})

	var sb strings.Builder
	sb.WriteString(t.Render())
	sb.WriteString("\n")
	sb.WriteString(mutedStyle.Render(footer(snap)))
	sb.WriteString("\n")
	return sb.String()
}

func footer(snap crud.Snapshot) string {
	if snap.Filtered == snap.Total {
		return fmt.Sprintf("page %d/%d, %d items", snap.Page, snap.TotalPages, snap.Total)
	}
	return fmt.Sprintf("page %d/%d, %d of %d items", snap.Page, snap.TotalPages, snap.Filtered, snap.Total)
}

func renderJSON(e entity.Entity) (string, error) {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}

// renderGuide renders a guide's block content as styled markdown.
func renderGuide(e entity.Entity, width int) (string, error) {
	blocks, err := content.Parse(e[content.Field])
	if err != nil {
		return "", err
	}
	md := content.Markdown(blocks)
	if title := e.String("title"); title != "" {
		md = "# " + title + "\n\n" + md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}
