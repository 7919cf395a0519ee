package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/kasuganosora/gamewiki/server/client"
	"github.com/kasuganosora/gamewiki/server/crud"
	"github.com/kasuganosora/gamewiki/server/entity"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var browseCmd = &cobra.Command{
	Use:   "browse RESOURCE",
	Short: "Browse and edit a collection interactively",
	Long: `Opens a terminal editor over one collection. The list reloads when another
editor changes the collection.

List:   / search   enter open   n new   x delete   [ ] page   r reload   q quit
Edit:   j/k move   e edit field   a add field   - drop field   ctrl+s save
        ctrl+x delete   esc close (asks first when there are unsaved edits)`,
	Args: cobra.ExactArgs(1),
	RunE: runBrowse,
}

func init() {
	browseCmd.Flags().Int("per-page", 15, "Items per page")
}

// Messages

type loadedMsg struct{ err error }
type savedMsg struct{ err error }
type removedMsg struct{ err error }
type changeMsg struct{ change client.Change }

// inputMode is what the text input is capturing.
type inputMode int

const (
	inputNone inputMode = iota
	inputSearch
	inputValue // value of the field under the cursor
	inputField // new key=value pair
)

// browseModel is the bubbletea model behind "wikictl browse".
type browseModel struct {
	ctx  context.Context
	ctrl *crud.Controller
	cfg  crud.Config

	table     table.Model
	input     textinput.Model
	mode      inputMode
	pageItems []entity.Entity

	// edit view
	tracker *crud.DirtyTracker[entity.Entity]
	fields  []string
	cursor  int

	confirmDelete string
	status        string
	width         int
}

func newBrowseModel(ctx context.Context, ctrl *crud.Controller) browseModel {
	cfg := ctrl.Config()
	cols := listColumns(cfg)
	tcols := make([]table.Column, len(cols))
	for i, c := range cols {
		tcols[i] = table.Column{Title: c, Width: 24}
	}
	t := table.New(
		table.WithColumns(tcols),
		table.WithFocused(true),
		table.WithHeight(cfg.ItemsPerPage+1),
	)
	in := textinput.New()
	in.CharLimit = 512
	in.Width = 60

	return browseModel{ctx: ctx, ctrl: ctrl, cfg: cfg, table: t, input: in, width: 80}
}

func (m browseModel) loadCmd() tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg { return loadedMsg{err: ctrl.Load(ctx)} }
}

func (m browseModel) saveCmd(e entity.Entity) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg { return savedMsg{err: ctrl.Save(ctx, e)} }
}

func (m browseModel) removeCmd(e entity.Entity) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg { return removedMsg{err: ctrl.Remove(ctx, e)} }
}

func (m browseModel) Init() tea.Cmd {
	return m.loadCmd()
}

func (m browseModel) editing() bool { return m.tracker != nil }

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.status = errorStyle.Render("Load failed: ") + msg.err.Error()
		}
		m.refresh()
		return m, nil

	case savedMsg, removedMsg:
		m.status = noticeLine(m.ctrl.Notice())
		m.ctrl.DismissNotification()
		if m.ctrl.ViewState().Mode == crud.ModeList {
			m.tracker = nil
		}
		m.refresh()
		return m, nil

	case changeMsg:
		if msg.change.Resource != m.cfg.Endpoint {
			return m, nil
		}
		m.status = mutedStyle.Render(fmt.Sprintf("%s %s elsewhere, reloading", msg.change.ID, msg.change.Type))
		if m.editing() && msg.change.Type == "deleted" && m.tracker.Initial().Key(m.cfg.IDField) == msg.change.ID {
			m.status = errorStyle.Render("This item was deleted by another editor")
		}
		return m, m.loadCmd()

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		if m.confirmDelete != "" {
			return m.updateConfirmDelete(msg)
		}
		if m.editing() {
			return m.updateEdit(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m browseModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	snap := m.ctrl.Snapshot()
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "/":
		m.startInput(inputSearch, "search", snap.Filter.Search)
		return m, textinput.Blink
	case "r":
		return m, m.loadCmd()
	case "]", "right", "l":
		m.ctrl.SetPage(snap.Page + 1)
		m.refresh()
		return m, nil
	case "[", "left", "h":
		m.ctrl.SetPage(snap.Page - 1)
		m.refresh()
		return m, nil
	case "n":
		m.ctrl.OpenNew()
		m.beginEdit()
		return m, nil
	case "enter":
		if e := m.highlighted(); e != nil {
			m.ctrl.Open(e.Key(m.cfg.IDField))
			m.beginEdit()
		}
		return m, nil
	case "x":
		if e := m.highlighted(); e != nil {
			m.confirmDelete = e.Key(m.cfg.IDField)
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m browseModel) updateEdit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.ctrl.ConfirmOpen() {
		switch msg.String() {
		case "y":
			m.ctrl.ConfirmClose()
			m.tracker = nil
			m.refresh()
		case "n", "esc":
			m.ctrl.CancelClose()
		}
		return m, nil
	}

	switch msg.String() {
	case "esc", "q":
		m.tracker.GuardExit(m.ctrl.RequestClose, m.ctrl.ConfirmClose)
		if m.ctrl.ViewState().Mode == crud.ModeList {
			m.tracker = nil
			m.refresh()
		}
		return m, nil
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.fields)-1 {
			m.cursor++
		}
	case "e", "enter":
		if k := m.fieldUnderCursor(); k != "" {
			m.startInput(inputValue, k, formatValue(m.tracker.Current()[k]))
			return m, textinput.Blink
		}
	case "a":
		m.startInput(inputField, "key=value", "")
		return m, textinput.Blink
	case "-":
		if k := m.fieldUnderCursor(); k != "" && k != m.cfg.IDField {
			m.edit(func(e entity.Entity) entity.Entity { delete(e, k); return e })
		}
	case "ctrl+s":
		m.status = mutedStyle.Render("Saving...")
		return m, m.saveCmd(m.tracker.Current())
	case "ctrl+x":
		cur := m.tracker.Initial()
		if !cur.IsNew() {
			m.confirmDelete = cur.Key(m.cfg.IDField)
		}
	}
	return m, nil
}

func (m browseModel) updateConfirmDelete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.confirmDelete
	m.confirmDelete = ""
	if msg.String() != "y" {
		return m, nil
	}
	m.status = mutedStyle.Render("Deleting " + id + "...")
	return m, m.removeCmd(entity.Entity{m.cfg.IDField: id})
}

func (m browseModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.mode == inputSearch {
			m.ctrl.SetSearch("")
			m.refresh()
		}
		m.stopInput()
		return m, nil
	case "enter":
		m.commitInput()
		m.stopInput()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.mode == inputSearch {
		m.ctrl.SetSearch(m.input.Value())
		m.refresh()
	}
	return m, cmd
}

func (m *browseModel) startInput(mode inputMode, prompt, value string) {
	m.mode = mode
	m.input.Prompt = prompt + ": "
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *browseModel) stopInput() {
	m.mode = inputNone
	m.input.Blur()
}

func (m *browseModel) commitInput() {
	v := m.input.Value()
	switch m.mode {
	case inputValue:
		k := m.fieldUnderCursor()
		m.edit(func(e entity.Entity) entity.Entity { e[k] = parseValue(v); return e })
	case inputField:
		set, err := parseAssignments([]string{v})
		if err != nil {
			m.status = errorStyle.Render(err.Error())
			return
		}
		m.edit(func(e entity.Entity) entity.Entity { return entity.Merge(e, set) })
	}
}

// beginEdit opens the form for the controller's selected entity.
func (m *browseModel) beginEdit() {
	sel := m.ctrl.Selected()
	if sel == nil {
		m.status = errorStyle.Render("Item not found")
		m.ctrl.ConfirmClose()
		return
	}
	m.tracker = crud.NewEntityTracker(sel)
	m.cursor = 0
	m.status = ""
	m.syncFields()
}

func (m *browseModel) edit(fn func(entity.Entity) entity.Entity) {
	m.tracker.Edit(fn)
	m.syncFields()
}

func (m *browseModel) syncFields() {
	cur := m.tracker.Current()
	m.fields = make([]string, 0, len(cur))
	for k := range cur {
		if k != entity.NewMarker {
			m.fields = append(m.fields, k)
		}
	}
	sort.Slice(m.fields, func(i, j int) bool {
		// id first, then alphabetical
		if (m.fields[i] == m.cfg.IDField) != (m.fields[j] == m.cfg.IDField) {
			return m.fields[i] == m.cfg.IDField
		}
		return m.fields[i] < m.fields[j]
	})
	if m.cursor >= len(m.fields) {
		m.cursor = len(m.fields) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m browseModel) fieldUnderCursor() string {
	if m.cursor < 0 || m.cursor >= len(m.fields) {
		return ""
	}
	return m.fields[m.cursor]
}

func (m browseModel) highlighted() entity.Entity {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.pageItems) {
		return nil
	}
	return m.pageItems[i]
}

// refresh copies the controller's current page into the table.
func (m *browseModel) refresh() {
	snap := m.ctrl.Snapshot()
	cols := listColumns(m.cfg)
	rows := make([]table.Row, 0, len(snap.Items))
	for _, e := range snap.Items {
		row := make(table.Row, len(cols))
		for i, f := range cols {
			row[i] = cell(e, f)
		}
		rows = append(rows, row)
	}
	m.pageItems = snap.Items
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func noticeLine(n *crud.Notification) string {
	if n == nil {
		return ""
	}
	if n.Kind == crud.NotifyError {
		return errorStyle.Render(n.Title+": ") + n.Message
	}
	return okStyle.Render(n.Message)
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f2f2f2")).
			Background(lipgloss.Color("#101F38")).Padding(0, 1)
	boxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2a3850")).Padding(0, 1)
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true)
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#2196F3"))
)

func (m browseModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(" wiki / "+m.cfg.Endpoint+" ") + "\n\n")
	if m.editing() {
		sb.WriteString(m.viewEdit())
	} else {
		sb.WriteString(m.viewList())
	}
	if m.mode != inputNone {
		sb.WriteString("\n" + boxStyle.Render(m.input.View()))
	}
	if m.confirmDelete != "" {
		sb.WriteString("\n" + errorStyle.Render("Delete "+m.confirmDelete+"? (y/n)"))
	}
	if m.status != "" {
		sb.WriteString("\n" + m.status)
	}
	return sb.String() + "\n"
}

func (m browseModel) viewList() string {
	snap := m.ctrl.Snapshot()
	var sb strings.Builder
	if !snap.Loaded && snap.Loading {
		return mutedStyle.Render("Loading...") + "\n"
	}
	if snap.Filter.Search != "" && m.mode != inputSearch {
		sb.WriteString(mutedStyle.Render("search: "+snap.Filter.Search) + "\n")
	}
	sb.WriteString(boxStyle.Render(m.table.View()) + "\n")
	sb.WriteString(mutedStyle.Render(footer(snap)))
	return sb.String()
}

func (m browseModel) viewEdit() string {
	cur := m.tracker.Current()
	var sb strings.Builder
	heading := "Edit " + m.tracker.Initial().Key(m.cfg.IDField)
	if m.tracker.Initial().IsNew() {
		heading = "New item"
	}
	if m.tracker.Dirty() {
		heading += mutedStyle.Render(" (modified)")
	}
	sb.WriteString(heading + "\n\n")

	for i, k := range m.fields {
		marker := "  "
		if i == m.cursor {
			marker = cursorStyle.Render("> ")
		}
		v := clip(formatValue(cur[k]), m.width-ansi.StringWidth(k)-8)
		sb.WriteString(marker + keyStyle.Render(k) + ": " + v + "\n")
	}
	if m.ctrl.ConfirmOpen() {
		sb.WriteString("\n" + errorStyle.Render("Discard unsaved changes? (y/n)"))
	}
	return sb.String()
}

func runBrowse(cmd *cobra.Command, args []string) error {
	rc, err := lookupResource(args[0])
	if err != nil {
		return err
	}
	perPage, _ := cmd.Flags().GetInt("per-page")
	api := newClient()
	ctrl, _ := newController(rc, api, "", func(cfg *crud.Config) { cfg.ItemsPerPage = perPage })

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	p := tea.NewProgram(newBrowseModel(ctx, ctrl), tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		err := api.Events(ctx, rc.Name, nil, func(ch client.Change) error {
			p.Send(changeMsg{change: ch})
			return nil
		})
		if err != nil {
			logger.Warn("live reload unavailable", zap.Error(err))
		}
	}()

	_, err = p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
