// Package debugger implements an interactive bubbletea TUI around a
// *bus.Bus, grounded on hejops-gone/cpu/debugger.go's model/page-table
// layout, replacing the teacher's fmt.Scanf-driven BIOS REPL.
package debugger

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"

	"github.com/cdriehuys/nesgo/internal/bus"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	pcStyle     = lipgloss.NewStyle().Reverse(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type stepMsg struct{}

func stepTick() tea.Cmd {
	return tea.Tick(time.Millisecond, func(time.Time) tea.Msg { return stepMsg{} })
}

// Model is the bubbletea model driving one emulation session.
type Model struct {
	bus *bus.Bus

	breakpoints map[uint16]struct{}
	running     bool
	prevPC      uint16
	lastErr     error
}

// New builds a debugger model around an already-constructed bus. The
// caller is expected to have loaded a cartridge and reset the CPU.
func New(b *bus.Bus) Model {
	return Model{
		bus:         b,
		breakpoints: make(map[uint16]struct{}),
	}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "s":
			m.step()
			return m, nil
		case "r":
			m.running = true
			return m, stepTick()
		case "c":
			m.running = false
			return m, nil
		case "b":
			m.breakpoints[m.bus.CPU().PC()] = struct{}{}
			return m, nil
		case "x":
			m.breakpoints = make(map[uint16]struct{})
			return m, nil
		case "e":
			m.bus.Reset()
			return m, nil
		}

	case stepMsg:
		if !m.running {
			return m, nil
		}
		m.step()
		if _, hit := m.breakpoints[m.bus.CPU().PC()]; hit {
			m.running = false
			return m, nil
		}
		return m, stepTick()
	}
	return m, nil
}

func (m *Model) step() {
	defer func() {
		if r := recover(); r != nil {
			m.lastErr = fmt.Errorf("%v", r)
			m.running = false
		}
	}()
	m.prevPC = m.bus.CPU().PC()
	m.bus.Step()
}

const bytesPerPage = 16

func (m Model) renderPage(start uint16) string {
	s := fmt.Sprintf("%04x | ", start)
	pc := m.bus.CPU().PC()
	for i := 0; i < bytesPerPage; i++ {
		addr := start + uint16(i)
		b := m.bus.Read(addr)
		if addr == pc {
			s += pcStyle.Render(fmt.Sprintf(" %02x ", b)) + " "
		} else {
			s += fmt.Sprintf(" %02x  ", b)
		}
	}
	return s
}

func (m Model) pageTable() string {
	header := headerStyle.Render("page | ")
	for b := 0; b < bytesPerPage; b++ {
		header += fmt.Sprintf("  %01x  ", b)
	}

	pc := m.bus.CPU().PC()
	pcPage := pc &^ (bytesPerPage - 1)

	offsets := []uint16{0x0000, 0x0200, 0x8000, pcPage, pcPage + bytesPerPage}
	rows := []string{header}
	for _, o := range offsets {
		rows = append(rows, m.renderPage(o))
	}
	return strings.Join(rows, "\n")
}

func (m Model) status() string {
	breaks := make([]string, 0, len(m.breakpoints))
	for addr := range m.breakpoints {
		breaks = append(breaks, fmt.Sprintf("%04x", addr))
	}

	return fmt.Sprintf(
		"%s\nprev PC: %04x\n\nppu: scanline=%d dot=%d frame=%d status=%08b\n\nbreakpoints: %s\nrunning: %v\n",
		m.bus.CPU(),
		m.prevPC,
		m.bus.PPU().Scanline(), m.bus.PPU().Dot(), m.bus.PPU().Frame(), m.bus.PPU().Status(),
		strings.Join(breaks, " "),
		m.running,
	)
}

func (m Model) helpLine() string {
	return "(s)tep  (r)un  (c) stop running  (b)reak at PC  (x) clear breaks  r(e)set  (q)uit"
}

func (m Model) View() string {
	errLine := ""
	if m.lastErr != nil {
		errLine = errorStyle.Render("error: "+m.lastErr.Error()) + "\n"
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		errLine,
		lipgloss.JoinHorizontal(lipgloss.Top, m.pageTable(), "   "+strings.ReplaceAll(m.status(), "\n", "\n   ")),
		"",
		m.helpLine(),
		"",
		spew.Sdump(m.bus.CPU()),
	)
}

// Run starts the interactive session, blocking until the user quits.
func Run(b *bus.Bus) error {
	_, err := tea.NewProgram(New(b)).Run()
	return err
}
