package content

import (
	"fmt"
	"strings"
)

// Markdown renders blocks as CommonMark for terminal preview. Unknown data
// keys are ignored; a card becomes a reference line.
func Markdown(blocks []Block) string {
	var sb strings.Builder
	writeMarkdown(&sb, blocks)
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func writeMarkdown(sb *strings.Builder, blocks []Block) {
	for _, b := range blocks {
		switch b.Type {
		case "heading":
			level := intData(b.Data, "level", 2)
			if level < 1 || level > 6 {
				level = 2
			}
			fmt.Fprintf(sb, "%s %s\n\n", strings.Repeat("#", level), text(b.Data))
		case "paragraph":
			sb.WriteString(text(b.Data) + "\n\n")
		case "quote":
			for _, line := range strings.Split(text(b.Data), "\n") {
				sb.WriteString("> " + line + "\n")
			}
			sb.WriteString("\n")
		case "callout":
			title := stringData(b.Data, "title")
			if title == "" {
				title = "Note"
			}
			fmt.Fprintf(sb, "> **%s:** %s\n\n", title, text(b.Data))
		case "list":
			ordered, _ := b.Data["ordered"].(bool)
			for i, item := range listData(b.Data, "items") {
				if ordered {
					fmt.Fprintf(sb, "%d. %s\n", i+1, item)
				} else {
					sb.WriteString("- " + item + "\n")
				}
			}
			sb.WriteString("\n")
		case "image":
			fmt.Fprintf(sb, "![%s](%s)\n\n", stringData(b.Data, "alt"), stringData(b.Data, "src"))
		case "divider":
			sb.WriteString("---\n\n")
		case "table":
			writeTable(sb, b.Data)
		case "card":
			fmt.Fprintf(sb, "**[%s]** %s\n\n", stringData(b.Data, "resource"), stringData(b.Data, "code"))
		}
		if len(b.Children) > 0 {
			writeMarkdown(sb, b.Children)
		}
	}
}

func writeTable(sb *strings.Builder, data map[string]any) {
	rows, _ := data["rows"].([]any)
	for i, r := range rows {
		cells, _ := r.([]any)
		parts := make([]string, len(cells))
		for j, c := range cells {
			parts[j] = fmt.Sprint(c)
		}
		sb.WriteString("| " + strings.Join(parts, " | ") + " |\n")
		if i == 0 {
			sb.WriteString("|" + strings.Repeat(" --- |", len(cells)) + "\n")
		}
	}
	sb.WriteString("\n")
}

func text(data map[string]any) string { return stringData(data, "text") }

func stringData(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func intData(data map[string]any, key string, def int) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func listData(data map[string]any, key string) []string {
	raw, _ := data[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, fmt.Sprint(v))
	}
	return out
}
