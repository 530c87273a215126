package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-watermarker/config"
	"github.com/wippyai/wasm-watermarker/wasm"
	"github.com/wippyai/wasm-watermarker/watermark"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	methodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	bitsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var allMethods = []watermark.Method{
	watermark.MethodExportOrdering,
	watermark.MethodFunctionOrdering,
	watermark.MethodFunctionReordering,
	watermark.MethodExportReordering,
	watermark.MethodOperandSwapping,
}

type interactiveModel struct {
	err       error
	data      []byte
	stats     watermark.Stats
	enabled   map[watermark.Method]bool
	filename  string
	result    string
	payload   textinput.Model
	chunkSize int
	selected  int
	loaded    bool
	state     modelState
}

type modelState int

const (
	stateSelectMethods modelState = iota
	stateInputPayload
	stateShowResult
)

func newInteractiveModel(filename string, cfg *config.Config) *interactiveModel {
	enabled := make(map[watermark.Method]bool)
	for _, name := range cfg.Methods {
		enabled[watermark.Method(name)] = true
	}

	ti := textinput.New()
	ti.Placeholder = "watermark"
	ti.Prompt = "payload: "
	ti.Width = 40
	ti.SetValue(cfg.Watermark)

	return &interactiveModel{
		filename:  filename,
		enabled:   enabled,
		chunkSize: cfg.ChunkSize,
		payload:   ti,
		state:     stateSelectMethods,
	}
}

type loadedMsg struct {
	err   error
	data  []byte
	stats watermark.Stats
}

type embedResultMsg struct {
	err    error
	result string
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *interactiveModel) loadModule() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	mod, err := wasm.ParseModule(data)
	if err != nil {
		return loadedMsg{err: err}
	}
	st, err := watermark.Stat(mod, m.chunkSize)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{data: data, stats: st}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputPayload {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectMethods && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectMethods && m.selected < len(allMethods)-1 {
				m.selected++
			}

		case " ":
			if m.state == stateSelectMethods {
				method := allMethods[m.selected]
				m.enabled[method] = !m.enabled[method]
			}

		case "enter":
			switch m.state {
			case stateSelectMethods:
				if !m.loaded {
					return m, nil
				}
				m.state = stateInputPayload
				m.payload.Focus()
				return m, textinput.Blink

			case stateInputPayload:
				m.payload.Blur()
				return m, m.runEmbed

			case stateShowResult:
				m.state = stateSelectMethods
				m.result = ""
				m.err = nil
			}
			return m, nil

		case "esc":
			switch m.state {
			case stateInputPayload:
				m.payload.Blur()
				m.state = stateSelectMethods
			case stateShowResult:
				m.state = stateSelectMethods
				m.result = ""
				m.err = nil
			}
			return m, nil
		}

	case loadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.data = msg.data
		m.stats = msg.stats
		m.loaded = true

	case embedResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputPayload {
		var cmd tea.Cmd
		m.payload, cmd = m.payload.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *interactiveModel) methods() []watermark.Method {
	var methods []watermark.Method
	for _, method := range allMethods {
		if m.enabled[method] {
			methods = append(methods, method)
		}
	}
	return methods
}

// runEmbed embeds the payload into a fresh copy of the module, extracts it
// back from the encoded result and reports both sides.
func (m *interactiveModel) runEmbed() tea.Msg {
	methods := m.methods()
	if len(methods) == 0 {
		return embedResultMsg{err: fmt.Errorf("no method selected")}
	}
	payload := []byte(m.payload.Value())
	opts := watermark.Options{Methods: methods, ChunkSize: m.chunkSize}

	mod, err := wasm.ParseModule(m.data)
	if err != nil {
		return embedResultMsg{err: err}
	}
	embedded, err := watermark.Embed(mod, payload, opts)
	if err != nil {
		return embedResultMsg{err: err}
	}

	out := mod.Encode()
	marked, err := wasm.ParseModule(out)
	if err != nil {
		return embedResultMsg{err: err}
	}
	extracted, err := watermark.Extract(marked, opts)
	if err != nil {
		return embedResultMsg{err: err}
	}

	var b strings.Builder
	for _, mb := range embedded.Methods {
		fmt.Fprintf(&b, "%-22s %s\n", mb.Method, bitsStyle.Render(fmt.Sprintf("%d bits", mb.Bits)))
	}
	fmt.Fprintf(&b, "\nembedded %d of %d payload bits, module %d -> %d bytes\n",
		min(embedded.Bits, len(payload)*8), len(payload)*8, len(m.data), len(out))
	fmt.Fprintf(&b, "extracted: %s\n", hex.EncodeToString(extracted.Payload))
	fmt.Fprintf(&b, "           %s\n", printable(extracted.Payload))
	if n := min(len(payload), embedded.Bits/8); n > 0 && bytes.Equal(payload[:n], extracted.Payload[:n]) {
		b.WriteString(resultStyle.Render("round trip ok"))
	} else if n > 0 {
		b.WriteString(errorStyle.Render("round trip mismatch"))
	}
	return embedResultMsg{result: b.String()}
}

func (m *interactiveModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if !m.loaded {
		return "Loading module..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Watermarker"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "%d functions (%d defined), %d exports, %d swappable operations, chunk size %d\n\n",
		m.stats.Funcs, m.stats.DefinedFuncs, m.stats.Exports, m.stats.SwappableNodes, m.chunkSize)

	switch m.state {
	case stateSelectMethods:
		b.WriteString("Select methods:\n\n")
		for i, method := range allMethods {
			line := m.formatMethod(method)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • space toggle • enter payload • q quit"))

	case stateInputPayload:
		fmt.Fprintf(&b, "Embedding with %s\n\n", methodStyle.Render(joinMethods(m.methods())))
		b.WriteString(m.payload.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter embed • esc back"))

	case stateShowResult:
		b.WriteString("Result:\n\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(m.result)
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatMethod(method watermark.Method) string {
	box := "[ ]"
	if m.enabled[method] {
		box = "[x]"
	}
	return box + " " + methodStyle.Render(string(method)) + " " +
		bitsStyle.Render(fmt.Sprintf("%d bits", m.stats.Capacity[method]))
}

func joinMethods(methods []watermark.Method) string {
	names := make([]string, len(methods))
	for i, method := range methods {
		names[i] = string(method)
	}
	return strings.Join(names, ", ")
}

func runInteractive(filename string, cfg *config.Config) error {
	p := tea.NewProgram(newInteractiveModel(filename, cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
