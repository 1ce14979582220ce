// pivi-tui is a terminal client for the pivi-assist gateway. It renders
// the session timeline over the WebSocket bridge and lets a developer
// drive the reconciliation flow without a mobile build: typing sends
// chat messages, slash commands inject transport frames.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/coder/websocket"
)

type appConfig struct {
	serverURL string
	sessionID string
}

type timelineEntry struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Speaker    string `json:"speaker"`
	Text       string `json:"text,omitempty"`
	WidgetType string `json:"widget_type,omitempty"`
	FlowID     string `json:"flow_id,omitempty"`
	State      *struct {
		Step          string `json:"step,omitempty"`
		TransactionID string `json:"transaction_id,omitempty"`
		Receiver      string `json:"receiver,omitempty"`
		BankName      string `json:"bank_name,omitempty"`
		Amount        int64  `json:"amount"`
		Description   string `json:"description,omitempty"`
	} `json:"state,omitempty"`
}

type serverFrame struct {
	Type    string          `json:"type"`
	Text    string          `json:"text,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Entry   *timelineEntry  `json:"entry,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type clientFrame struct {
	Type                string          `json:"type"`
	Text                string          `json:"text,omitempty"`
	ParticipantIdentity string          `json:"participant_identity,omitempty"`
	IsFinal             bool            `json:"is_final,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	FlowID              string          `json:"flow_id,omitempty"`
	Connected           bool            `json:"connected,omitempty"`
}

type connectedMsg struct {
	conn *websocket.Conn
}

type frameMsg serverFrame

type disconnectedMsg struct {
	err error
}

type theme struct {
	user   lipgloss.Style
	agent  lipgloss.Style
	widget lipgloss.Style
	status lipgloss.Style
	errSt  lipgloss.Style
}

func newTheme() theme {
	return theme{
		user:   lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")).Bold(true),
		agent:  lipgloss.NewStyle().Foreground(lipgloss.Color("#01cdfe")).Bold(true),
		widget: lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")),
		status: lipgloss.NewStyle().Foreground(lipgloss.Color("#6c6f93")),
		errSt:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ff2e63")).Bold(true),
	}
}

type model struct {
	cfg   appConfig
	theme theme

	conn      *websocket.Conn
	connected bool
	statusMsg string

	entries  []timelineEntry
	entryIdx map[string]int
	lastFlow string

	timeline viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	width    int
	height   int
}

func newModel(cfg appConfig) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 2000
	input.Placeholder = "Message, or /transcript, /metadata, /confirm, /disconnect"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	timeline := viewport.New(0, 0)
	timeline.MouseWheelEnabled = true

	return model{
		cfg:       cfg,
		theme:     newTheme(),
		statusMsg: "connecting...",
		entryIdx:  map[string]int{},
		timeline:  timeline,
		input:     input,
		spinner:   sp,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, connectCmd(m.cfg))
}

func connectCmd(cfg appConfig) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		url := strings.TrimRight(cfg.serverURL, "/") + "/ws/assist?session_id=" + cfg.sessionID
		conn, _, err := websocket.Dial(ctx, url, nil)
		if err != nil {
			return disconnectedMsg{err: fmt.Errorf("dial %s: %w", url, err)}
		}
		return connectedMsg{conn: conn}
	}
}

func readCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			return disconnectedMsg{err: err}
		}
		var frame serverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return disconnectedMsg{err: fmt.Errorf("bad frame: %w", err)}
		}
		return frameMsg(frame)
	}
}

func sendCmd(conn *websocket.Conn, frame clientFrame) tea.Cmd {
	return func() tea.Msg {
		data, err := json.Marshal(frame)
		if err != nil {
			return disconnectedMsg{err: err}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return disconnectedMsg{err: err}
		}
		return nil
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.timeline.Width = msg.Width
		m.timeline.Height = msg.Height - 4
		m.input.Width = msg.Width - 4
		m.refreshTimeline()
		return m, nil

	case connectedMsg:
		m.conn = msg.conn
		m.connected = true
		m.statusMsg = "connected to " + m.cfg.serverURL
		return m, readCmd(m.conn)

	case disconnectedMsg:
		m.connected = false
		if msg.err != nil {
			m.statusMsg = "disconnected: " + msg.err.Error()
		} else {
			m.statusMsg = "disconnected"
		}
		return m, nil

	case frameMsg:
		m.applyFrame(serverFrame(msg))
		return m, readCmd(m.conn)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.conn != nil {
				_ = m.conn.Close(websocket.StatusNormalClosure, "bye")
			}
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	m.input.SetValue("")
	if line == "" || !m.connected {
		return m, nil
	}

	if frame, ok := m.commandFrame(line); ok {
		return m, sendCmd(m.conn, frame)
	}
	return m, sendCmd(m.conn, clientFrame{Type: "chat", Text: line})
}

// commandFrame turns slash commands into raw bridge frames so the whole
// flow can be exercised without a live agent room.
func (m model) commandFrame(line string) (clientFrame, bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/transcript":
		text := strings.TrimSpace(strings.TrimPrefix(line, "/transcript"))
		return clientFrame{
			Type:                "transcript",
			ParticipantIdentity: "agent",
			Text:                text,
			IsFinal:             true,
		}, true
	case "/metadata":
		payload := strings.TrimSpace(strings.TrimPrefix(line, "/metadata"))
		return clientFrame{Type: "metadata", Payload: json.RawMessage(payload)}, true
	case "/confirm":
		flowID := m.lastFlow
		if len(fields) > 1 {
			flowID = fields[1]
		}
		return clientFrame{Type: "confirm_transfer", FlowID: flowID}, true
	case "/disconnect":
		return clientFrame{Type: "connection", Connected: false}, true
	case "/reconnect":
		return clientFrame{Type: "connection", Connected: true}, true
	}
	return clientFrame{}, false
}

func (m *model) applyFrame(frame serverFrame) {
	switch frame.Type {
	case "timeline":
		if frame.Entry == nil {
			return
		}
		if idx, ok := m.entryIdx[frame.Entry.ID]; ok {
			m.entries[idx] = *frame.Entry
		} else {
			m.entryIdx[frame.Entry.ID] = len(m.entries)
			m.entries = append(m.entries, *frame.Entry)
		}
		if frame.Entry.Kind == "widget" && frame.Entry.FlowID != "" {
			m.lastFlow = frame.Entry.FlowID
		}
		m.refreshTimeline()
	case "send_chat", "send_metadata":
		// Instructions for the room transport; nothing to render here.
	case "error":
		m.statusMsg = "server error: " + frame.Error
	}
}

func (m *model) refreshTimeline() {
	var b strings.Builder
	for _, e := range m.entries {
		b.WriteString(m.renderEntry(e))
		b.WriteByte('\n')
	}
	m.timeline.SetContent(b.String())
	m.timeline.GotoBottom()
}

func (m *model) renderEntry(e timelineEntry) string {
	if e.Kind == "widget" {
		label := e.WidgetType
		if e.State != nil {
			switch e.WidgetType {
			case "transfer":
				label = fmt.Sprintf("transfer %d VND to %s (%s) [%s]",
					e.State.Amount, e.State.Receiver, e.State.BankName, e.State.Step)
			default:
				label = fmt.Sprintf("%s [%s]", e.WidgetType, e.State.Step)
			}
		}
		return m.theme.widget.Render("▢ " + label)
	}

	style := m.theme.agent
	if e.Speaker == "user" {
		style = m.theme.user
	}
	return style.Render(e.Speaker+":") + " " + e.Text
}

func (m model) View() string {
	status := m.theme.status.Render(m.statusMsg)
	if !m.connected && strings.HasPrefix(m.statusMsg, "connecting") {
		status = m.spinner.View() + " " + status
	}
	if strings.HasPrefix(m.statusMsg, "disconnected") || strings.HasPrefix(m.statusMsg, "server error") {
		status = m.theme.errSt.Render(m.statusMsg)
	}

	return strings.Join([]string{
		m.timeline.View(),
		status,
		m.input.View(),
	}, "\n")
}

func main() {
	cfg := appConfig{}
	flag.StringVar(&cfg.serverURL, "server", "ws://127.0.0.1:8080", "gateway WebSocket base URL")
	flag.StringVar(&cfg.sessionID, "session", "tui", "session id")
	flag.Parse()

	p := tea.NewProgram(newModel(cfg), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "pivi-tui:", err)
		os.Exit(1)
	}
}
