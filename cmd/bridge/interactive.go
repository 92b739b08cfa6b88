package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/boundary"
	"github.com/wippyai/native-bridge/heap"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const logDepth = 8

// interactiveModel drives the registry inspector: a live table of wrappers
// plus a short lifecycle event log. All actions run on the update goroutine,
// so the model needs no locking of its own.
type interactiveModel struct {
	reg     *boundary.Registry
	store   *heap.GoHeap
	binding *boundary.Binding
	shared  *boundary.SharedBridge
	typ     *nativebridge.TypeInfo

	table     table.Model
	log       []string
	lastErr   error
	handles   map[nativebridge.Address]*boundary.UniqueHandle
	sharedRef map[nativebridge.Address]*boundary.SharedHandle
}

func newInteractiveModel() (*interactiveModel, error) {
	store := heap.NewGoHeap()
	reg := boundary.NewRegistry()

	typ := &nativebridge.TypeInfo{
		Name:    "mesh",
		Size:    16,
		Deleter: nativebridge.DeleterTagged,
		Compat:  nativebridge.CompatUnknown,
	}

	m := &interactiveModel{
		reg:       reg,
		store:     store,
		shared:    boundary.NewSharedBridge(reg),
		typ:       typ,
		handles:   make(map[nativebridge.Address]*boundary.UniqueHandle),
		sharedRef: make(map[nativebridge.Address]*boundary.SharedHandle),
	}
	typ.Destructor = func(addr nativebridge.Address) {
		m.logf("destructor ran at 0x%x", uint64(addr))
	}

	b, err := boundary.DeclareBinding(reg, typ)
	if err != nil {
		return nil, err
	}
	m.binding = b
	reg.Subscribe(m)

	columns := []table.Column{
		{Title: "Addr", Width: 12},
		{Title: "Type", Width: 8},
		{Title: "State", Width: 12},
		{Title: "Refs", Width: 5},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	t.SetStyles(styles)
	m.table = t

	return m, nil
}

// OnBoundaryEvent implements boundary.Observer.
func (m *interactiveModel) OnBoundaryEvent(ev boundary.Event) {
	m.logf("%s 0x%x (%s)", ev.Type, uint64(ev.Addr), ev.State)
}

func (m *interactiveModel) logf(format string, args ...any) {
	m.log = append(m.log, fmt.Sprintf(format, args...))
	if len(m.log) > logDepth {
		m.log = m.log[len(m.log)-logDepth:]
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	m.refresh()
	return nil
}

func (m *interactiveModel) refresh() {
	type row struct {
		addr nativebridge.Address
		w    *boundary.Wrapper
	}
	var rows []row
	m.reg.Each(func(addr nativebridge.Address, w *boundary.Wrapper) bool {
		rows = append(rows, row{addr, w})
		return true
	})
	sort.Slice(rows, func(i, j int) bool { return rows[i].addr < rows[j].addr })

	tableRows := make([]table.Row, len(rows))
	for i, r := range rows {
		tableRows[i] = table.Row{
			fmt.Sprintf("0x%x", uint64(r.addr)),
			r.w.Instance().Type.Name,
			r.w.State().String(),
			fmt.Sprintf("%d", r.w.HostRefs()),
		}
	}
	m.table.SetRows(tableRows)
}

// selectedWrapper resolves the table cursor back to a registry wrapper.
func (m *interactiveModel) selectedWrapper() (*boundary.Wrapper, bool) {
	row := m.table.SelectedRow()
	if row == nil {
		return nil, false
	}
	var addr uint64
	if _, err := fmt.Sscanf(row[0], "0x%x", &addr); err != nil {
		return nil, false
	}
	return m.reg.Lookup(nativebridge.Address(addr))
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.reg.Unsubscribe(m)
			m.reg.Close()
			m.store.Close()
			return m, tea.Quit

		case "n":
			m.lastErr = m.createInstance()

		case "s":
			m.lastErr = m.shareSelected()

		case "x":
			m.lastErr = m.exclusiveOutSelected()

		case "b":
			m.lastErr = m.handBackSelected()

		case "d":
			m.lastErr = m.releaseSelected()
		}

		m.refresh()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// createInstance allocates a fresh native instance and crosses it with
// ownership transfer, so the host collector becomes responsible for it.
func (m *interactiveModel) createInstance() error {
	addr, err := m.store.Alloc(m.typ.Size)
	if err != nil {
		return err
	}
	inst := nativebridge.Instance{Type: m.typ, Heap: m.store, Addr: addr}
	_, err = m.binding.Cross(inst, boundary.TakeOwnership, nil)
	return err
}

func (m *interactiveModel) shareSelected() error {
	w, ok := m.selectedWrapper()
	if !ok {
		return nil
	}
	sh, err := m.shared.WrapForSharing(w.Instance())
	if err != nil {
		return err
	}
	if prev, ok := m.sharedRef[w.Addr()]; ok {
		_ = prev.Release()
	}
	m.sharedRef[w.Addr()] = sh
	m.logf("shared control block over 0x%x", uint64(w.Addr()))
	return nil
}

func (m *interactiveModel) exclusiveOutSelected() error {
	w, ok := m.selectedWrapper()
	if !ok {
		return nil
	}
	if _, held := m.handles[w.Addr()]; held {
		return fmt.Errorf("0x%x is already out on an exclusive handle", uint64(w.Addr()))
	}
	h, err := m.binding.ExclusiveOut(w.Instance())
	if err != nil {
		return err
	}
	m.handles[w.Addr()] = h
	m.logf("exclusive handle out for 0x%x (%s)", uint64(w.Addr()), h.Deleter())
	return nil
}

func (m *interactiveModel) handBackSelected() error {
	row := m.table.SelectedRow()
	if row == nil {
		return nil
	}
	var addr uint64
	if _, err := fmt.Sscanf(row[0], "0x%x", &addr); err != nil {
		return nil
	}
	h, held := m.handles[nativebridge.Address(addr)]
	if !held {
		return fmt.Errorf("no exclusive handle out for 0x%x", addr)
	}
	w, err := m.binding.ExclusiveIn(h)
	if err != nil {
		return err
	}
	delete(m.handles, nativebridge.Address(addr))
	// ExclusiveIn hands us a fresh host reference; the table row already
	// accounts for the wrapper, so fold it back in.
	w.Release()
	m.logf("handed 0x%x back to the host collector", addr)
	return nil
}

func (m *interactiveModel) releaseSelected() error {
	w, ok := m.selectedWrapper()
	if !ok {
		return nil
	}
	addr := w.Addr()
	if sh, held := m.sharedRef[addr]; held {
		delete(m.sharedRef, addr)
		return sh.Release()
	}
	w.Release()
	return nil
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Boundary Registry"))
	b.WriteString(fmt.Sprintf("  %d wrappers, %d live blocks\n\n", m.reg.Len(), m.store.Len()))

	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	if len(m.log) > 0 {
		for _, line := range m.log {
			b.WriteString(eventStyle.Render("  " + line))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if m.lastErr != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.lastErr)))
		b.WriteString("\n\n")
	}

	b.WriteString(helpStyle.Render("n new • s share • x exclusive out • b hand back • d release • ↑/↓ select • q quit"))
	return b.String()
}

func runInteractive() error {
	m, err := newInteractiveModel()
	if err != nil {
		return err
	}
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}
