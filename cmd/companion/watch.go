package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/nstogner/companion/pkg/domain"
)

var (
	watchTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	personaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	messageStyle = lipgloss.NewStyle().PaddingLeft(2)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
)

const backlogSize = 20

type eventMsg domain.FeedbackEvent
type backlogMsg []domain.FeedbackEvent
type errMsg struct{ err error }
type disconnectedMsg struct{}

type watchModel struct {
	events      <-chan domain.FeedbackEvent
	errs        <-chan error
	server      string
	showAll     bool
	feed        []domain.FeedbackEvent
	viewport    viewport.Model
	ready       bool
	err         error
	connected   bool
	lastEventAt time.Time
}

func newWatchCmd() *cobra.Command {
	var (
		serverURL string
		apiKey    string
		insecure  bool
		showAll   bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live feedback from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("COMPANION_API_KEY")
			}
			if apiKey == "" {
				return fmt.Errorf("--api-key or COMPANION_API_KEY is required")
			}
			c := &streamClient{base: strings.TrimRight(serverURL, "/"), apiKey: apiKey, insecure: insecure}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			backlog, err := c.history(ctx, backlogSize)
			if err != nil {
				return err
			}
			events, errs, err := c.stream(ctx)
			if err != nil {
				return err
			}

			m := watchModel{events: events, errs: errs, server: c.base, showAll: showAll, connected: true}
			p := tea.NewProgram(m, tea.WithAltScreen())
			go p.Send(backlogMsg(backlog))
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "https://localhost:8443", "server base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (or COMPANION_API_KEY)")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "skip TLS certificate verification")
	cmd.Flags().BoolVar(&showAll, "all", false, "also show suppressed captures")
	return cmd
}

// --- Client ---

type streamClient struct {
	base     string
	apiKey   string
	insecure bool
}

func (c *streamClient) tlsConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: c.insecure}
}

// history fetches the most recent events, oldest first.
func (c *streamClient) history(ctx context.Context, limit int) ([]domain.FeedbackEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/v1/history?limit=%d", c.base, limit), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	client := &http.Client{
		Timeout:   10 * time.Second,
		Transport: &http.Transport{TLSClientConfig: c.tlsConfig()},
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching history: %s", resp.Status)
	}

	var events []domain.FeedbackEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// stream dials the feedback websocket and forwards events until ctx is done
// or the connection drops.
func (c *streamClient) stream(ctx context.Context) (<-chan domain.FeedbackEvent, <-chan error, error) {
	u, err := url.Parse(c.base + "/api/v1/feedback/stream")
	if err != nil {
		return nil, nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, TLSClientConfig: c.tlsConfig()}
	header := http.Header{}
	header.Set("X-API-Key", c.apiKey)
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("connecting to feedback stream: %s", resp.Status)
		}
		return nil, nil, fmt.Errorf("connecting to feedback stream: %w", err)
	}

	events := make(chan domain.FeedbackEvent)
	errs := make(chan error, 1)
	go func() {
		<-ctx.Done()
		ws.Close()
	}()
	go func() {
		defer close(events)
		for {
			var ev domain.FeedbackEvent
			if err := ws.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					errs <- err
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, errs, nil
}

// --- TUI ---

func waitForEvent(events <-chan domain.FeedbackEvent, errs <-chan error) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-errs:
					return errMsg{err}
				default:
					return disconnectedMsg{}
				}
			}
			return eventMsg(ev)
		case err := <-errs:
			return errMsg{err}
		}
	}
}

func (m watchModel) Init() tea.Cmd {
	return waitForEvent(m.events, m.errs)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		// Header and footer take two lines each.
		height := max(msg.Height-4, 0)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, height)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = height
		}
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		case "a":
			m.showAll = !m.showAll
			m.refresh()
		}

	case backlogMsg:
		m.feed = append([]domain.FeedbackEvent(msg), m.feed...)
		m.refresh()

	case eventMsg:
		m.feed = append(m.feed, domain.FeedbackEvent(msg))
		m.lastEventAt = time.Now()
		m.refresh()
		cmds = append(cmds, waitForEvent(m.events, m.errs))

	case errMsg:
		m.err = msg.err
		m.connected = false

	case disconnectedMsg:
		m.connected = false
	}

	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)
	return m, tea.Batch(cmds...)
}

func (m *watchModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(renderFeed(m.feed, m.showAll, m.viewport.Width))
	m.viewport.GotoBottom()
}

// renderFeed formats events for the viewport. Suppressed events are only
// shown when all is true.
func renderFeed(events []domain.FeedbackEvent, all bool, width int) string {
	wrap := messageStyle
	if width > 4 {
		wrap = wrap.Width(width - 2)
	}

	var b strings.Builder
	shown := 0
	for _, ev := range events {
		if ev.Suppressed && !all {
			continue
		}
		shown++
		ts := ev.Timestamp.Local().Format("15:04:05")
		header := fmt.Sprintf("%s %s %s", mutedStyle.Render(ts), personaStyle.Render(ev.Persona),
			mutedStyle.Render(ev.ClassName+" · "+ev.WindowTitle))
		b.WriteString(header + "\n")

		text := ev.Feedback
		if text == "" {
			text = fmt.Sprintf("(capture %d, no feedback)", ev.CaptureCount)
		}
		b.WriteString(wrap.Render(text) + "\n\n")
	}
	if shown == 0 {
		return mutedStyle.Render("Waiting for feedback...")
	}
	return b.String()
}

func (m watchModel) View() string {
	if !m.ready {
		return "Connecting..."
	}

	status := "connected"
	if !m.connected {
		status = "disconnected"
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		watchTitleStyle.Render("companion"),
		" ",
		mutedStyle.Render(m.server+" · "+status),
	)

	footer := mutedStyle.Render("a: toggle suppressed · q: quit")
	if !m.lastEventAt.IsZero() {
		footer += mutedStyle.Render(" · last event " + m.lastEventAt.Format("15:04:05"))
	}
	if m.err != nil {
		footer = errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, "", m.viewport.View(), "", footer)
}
