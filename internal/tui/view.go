package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/npratt/hopctl/internal/controller"
	"github.com/npratt/hopctl/internal/events"
)

const (
	minWidth  = 60
	minHeight = chromeRows + 4
)

// View implements tea.Model. This renders the full TUI display.
func (m model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	if m.width < minWidth || m.height < minHeight {
		return m.renderTooSmall()
	}

	sections := []string{
		m.renderHeader(),
		m.renderDivider(),
		m.renderBody(),
		m.renderDivider(),
		m.renderActivity(),
		m.renderDivider(),
		m.renderFooter(),
	}
	content := strings.Join(sections, "\n")

	rendered := styles.Container.
		Width(safeWidth(m.width - 2)).
		Render(content)

	return lipgloss.Place(m.width, m.height, lipgloss.Left, lipgloss.Top, rendered)
}

// renderTooSmall renders a minimal message for terminals that are too small.
func (m model) renderTooSmall() string {
	return fmt.Sprintf("Terminal too small (%dx%d). Need %dx%d minimum.",
		m.width, m.height, minWidth, minHeight)
}

// renderHeader renders the status line and the address bar.
func (m model) renderHeader() string {
	w := m.contentWidth()

	status := m.renderStatus()
	online := len(m.snap.Roster.Online())
	nodes := styles.Nodes.Render(fmt.Sprintf("nodes: %d  relays: %d/%d",
		m.snap.NodeCount, online, len(m.snap.Roster)))
	statusLine := spread(w, status, nodes)

	bar := m.input.View()
	var right string
	switch {
	case m.notice != "":
		right = styles.Notice.Render(events.Truncate(m.notice, max(10, w-m.urlWidth()-1)))
	case m.snap.Page != nil && m.snap.Page.StatusCode != 0:
		right = styles.Code.Render(fmt.Sprintf("%d", m.snap.Page.StatusCode))
	}
	urlLine := spread(w, bar, right)

	return statusLine + "\n" + urlLine
}

// renderStatus renders the status message with the spinner while busy.
func (m model) renderStatus() string {
	msg := styleForStatus(m.snap).Render(m.snap.Message)
	if m.busy() {
		return m.spinner.View() + " " + msg
	}
	return msg
}

// renderDivider renders a horizontal divider line.
func (m model) renderDivider() string {
	return styles.Divider.Render(strings.Repeat("─", m.contentWidth()))
}

// renderBody renders the relay roster next to the page.
func (m model) renderBody() string {
	h := m.bodyHeight()
	sep := styles.Divider.Render(strings.TrimSuffix(strings.Repeat(" │ \n", h), "\n"))

	relays := lipgloss.NewStyle().Width(rosterWidth).Height(h).Render(m.renderRoster(h))
	page := lipgloss.NewStyle().Width(m.page.Width).Height(h).Render(m.renderPage(h))

	return lipgloss.JoinHorizontal(lipgloss.Top, relays, sep, page)
}

// renderRoster lists known relays with their status.
func (m model) renderRoster(rows int) string {
	lines := []string{styles.Title.Render("relays")}
	if len(m.snap.Roster) == 0 {
		lines = append(lines, styles.Placeholder.Render("none known"))
		return strings.Join(lines, "\n")
	}

	shown := m.snap.Roster
	var more int
	if len(shown) > rows-1 {
		more = len(shown) - (rows - 2)
		shown = shown[:max(0, rows-2)]
	}
	for _, r := range shown {
		text := events.StatusSymbol(string(r.Status)) + " " + events.Truncate(events.SafeString(r.Address), rosterWidth-2)
		lines = append(lines, styleForRelay(r.Status).Render(text))
	}
	if more > 0 {
		lines = append(lines, styles.Placeholder.Render(fmt.Sprintf("+%d more", more)))
	}
	return strings.Join(lines, "\n")
}

// renderPage renders the fetched page or a hint for what to do next.
func (m model) renderPage(rows int) string {
	switch {
	case m.snap.LoadError != "":
		return styles.Error.Render("load failed: " + events.SafeString(m.snap.LoadError))
	case m.snap.Loading != "":
		return styles.Placeholder.Render("waiting for " + m.snap.Loading)
	case m.snap.Page != nil:
		return m.page.View()
	}

	var hint string
	switch m.snap.State {
	case controller.StateConnected:
		hint = "Press / to enter an address."
	case controller.StateConnecting:
		hint = "Starting relays..."
	default:
		hint = "Press c to connect."
	}
	padding := strings.Repeat("\n", rows/2)
	return padding + lipgloss.PlaceHorizontal(m.page.Width, lipgloss.Center, styles.Placeholder.Render(hint))
}

// renderActivity renders the most recent events.
func (m model) renderActivity() string {
	w := m.contentWidth()
	start := max(0, len(m.eventLines)-activityRows)

	var lines []string
	for _, el := range m.eventLines[start:] {
		lines = append(lines, renderEventLine(el, w))
	}
	for len(lines) < activityRows {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

// renderEventLine renders a single event with timestamp and styling.
func renderEventLine(el eventLine, maxWidth int) string {
	prefix := el.Time.Format("15:04:05") + " "
	textWidth := max(10, maxWidth-len(prefix))
	return styles.Timestamp.Render(prefix) + el.Style.Render(events.Truncate(el.Text, textWidth))
}

// renderFooter renders keyboard shortcuts help text.
func (m model) renderFooter() string {
	var help string
	switch {
	case m.focusedPane == FocusURL:
		help = "enter: load  esc: cancel  tab: page  ctrl+c: quit"
	case m.snap.State == controller.StateConnected:
		help = "/: address  b/f: back/forward  r: reload  ↑/↓: scroll  +/-: nodes  q: quit"
	case m.snap.State == controller.StateConnecting:
		help = "+/-: nodes  q: quit"
	default:
		help = "c: connect  +/-: nodes  q: quit"
	}
	return styles.Footer.Render(help)
}

// spread places left and right at the edges of a w-wide line.
func spread(w int, left, right string) string {
	gap := max(1, w-lipgloss.Width(left)-lipgloss.Width(right))
	return left + strings.Repeat(" ", gap) + right
}

// safeWidth returns a width that is at least 1 to prevent negative values.
func safeWidth(w int) int {
	if w < 1 {
		return 1
	}
	return w
}
