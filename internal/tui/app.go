// internal/tui/app.go
//
// This is the terminal UI for cortex training runs. It uses bubbletea, which
// follows The Elm Architecture:
//
// 1. Model: the application state
// 2. Update: a function that updates state based on messages
// 3. View: a function that renders state to a string
//
// The experiment runs in its own goroutine and feeds progress reports into
// the program through a channel.

package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/cortex/internal/experiment"
)

// appState represents which screen we're on
type appState int

const (
	stateSelectModel appState = iota // model picker
	stateTraining                    // run in progress
	stateDone                        // run finished or failed
)

const historyLines = 8

// StartFunc runs the named model, reporting through progress until it
// returns. It must stop when ctx is cancelled.
type StartFunc func(ctx context.Context, model string, progress func(experiment.Progress)) error

// ModelInfo describes one selectable model plugin.
type ModelInfo struct {
	Name    string
	Summary string
}

func (m ModelInfo) Title() string       { return m.Name }
func (m ModelInfo) Description() string { return m.Summary }
func (m ModelInfo) FilterValue() string { return m.Name }

type progressMsg experiment.Progress

type runClosedMsg struct{}

// AppOption customizes App construction.
type AppOption func(*App)

// WithModel skips the picker and starts name right away.
func WithModel(name string) AppOption {
	return func(a *App) { a.preselected = strings.TrimSpace(name) }
}

// App is the bubbletea model. It holds all UI state.
type App struct {
	state       appState
	start       StartFunc
	preselected string

	menu     list.Model
	spinner  spinner.Model
	progress progress.Model

	model   string
	updates chan experiment.Progress
	cancel  context.CancelFunc

	last    experiment.Progress
	values  map[string]float64
	history []string
	err     error

	width  int
	height int
}

// NewApp creates an App offering models and running them with start.
func NewApp(models []ModelInfo, start StartFunc, opts ...AppOption) *App {
	items := make([]list.Item, len(models))
	for i := range models {
		items[i] = models[i]
	}
	menu := list.New(items, list.NewDefaultDelegate(), 0, 0)
	menu.Title = "⬡ Select Model"
	menu.SetShowStatusBar(false)
	menu.SetFilteringEnabled(false)

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))

	app := &App{
		state:    stateSelectModel,
		start:    start,
		menu:     menu,
		spinner:  spin,
		progress: progress.New(progress.WithDefaultGradient()),
		values:   map[string]float64{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	if a.preselected != "" {
		_, cmd := a.startRun(a.preselected)
		return cmd
	}
	return nil
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.menu.SetSize(max(0, msg.Width-6), max(0, msg.Height-6))
		a.progress.Width = max(10, msg.Width-12)
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			a.stop()
			return a, tea.Quit
		case "q":
			if a.state != stateSelectModel {
				a.stop()
				return a, tea.Quit
			}
		case "enter":
			if a.state == stateSelectModel {
				item, ok := a.menu.SelectedItem().(ModelInfo)
				if !ok {
					return a, nil
				}
				return a.startRun(item.Name)
			}
		}

	case progressMsg:
		a.applyProgress(experiment.Progress(msg))
		return a, waitForProgress(a.updates)

	case runClosedMsg:
		if a.state == stateTraining {
			a.state = stateDone
		}
		return a, nil

	case spinner.TickMsg:
		if a.state != stateTraining {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	if a.state == stateSelectModel {
		var cmd tea.Cmd
		a.menu, cmd = a.menu.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) startRun(model string) (tea.Model, tea.Cmd) {
	a.state = stateTraining
	a.model = model
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	updates := make(chan experiment.Progress, 16)
	a.updates = updates

	go func() {
		defer close(updates)
		report := func(p experiment.Progress) {
			select {
			case updates <- p:
			case <-ctx.Done():
			}
		}
		if err := a.start(ctx, model, report); err != nil {
			report(experiment.Progress{Model: model, Done: true, Err: err})
		}
	}()
	return a, tea.Batch(a.spinner.Tick, waitForProgress(updates))
}

func (a *App) stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func waitForProgress(updates <-chan experiment.Progress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-updates
		if !ok {
			return runClosedMsg{}
		}
		return progressMsg(p)
	}
}

func (a *App) applyProgress(p experiment.Progress) {
	if p.Model != "" {
		a.model = p.Model
	}
	if p.Done {
		a.state = stateDone
		if p.Err != nil {
			a.err = p.Err
		}
		return
	}
	if a.last.Phase == experiment.PhaseEval && (p.Phase != experiment.PhaseEval || p.Epoch != a.last.Epoch) {
		a.pushHistory(fmt.Sprintf("epoch %d eval · %s", a.last.Epoch, formatValues(a.values)))
	}
	a.last = p
	a.values = p.Values
}

func (a *App) pushHistory(line string) {
	a.history = append(a.history, line)
	if len(a.history) > historyLines {
		a.history = a.history[len(a.history)-historyLines:]
	}
}

// fraction is the share of the whole run completed so far.
func (a *App) fraction() float64 {
	p := a.last
	if a.state == stateDone && a.err == nil {
		return 1
	}
	if p.Epochs <= 0 || p.Epoch <= 0 {
		return 0
	}
	within := 0.0
	if p.Phase == experiment.PhaseEval {
		within = 1
	} else if p.Steps > 0 {
		within = min(1, float64(p.Step)/float64(p.Steps))
	}
	return min(1, (float64(p.Epoch-1)+within)/float64(p.Epochs))
}

// View renders the current screen.
func (a *App) View() string {
	if a.state == stateSelectModel {
		return lipgloss.NewStyle().Margin(1, 2).Render(a.menu.View())
	}
	return a.renderRunBoard()
}

func (a *App) renderRunBoard() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ CORTEX")

	width := max(40, a.width-4)
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(width)

	sections := []string{header, box.Render(a.renderRunPanel())}
	if panel := a.renderHistoryPanel(); panel != "" {
		sections = append(sections, box.Render(panel))
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusLine())
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderRunPanel() string {
	p := a.last
	title := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	lines := []string{title.Render(fmt.Sprintf("Model: %s", a.model))}
	if p.RunID != "" {
		lines = append(lines, fmt.Sprintf("Run: %s", p.RunID))
	}
	phase := p.Phase
	if phase == "" {
		phase = "setup"
	}
	stepLine := fmt.Sprintf("step %d", p.Step)
	if p.Steps > 0 {
		stepLine = fmt.Sprintf("step %d/%d", p.Step, p.Steps)
	}
	lines = append(lines,
		fmt.Sprintf("Phase: %s · epoch %d/%d · %s", phase, p.Epoch, p.Epochs, stepLine),
		a.progress.ViewAs(a.fraction()),
	)
	if len(a.values) > 0 {
		lines = append(lines, "", formatTable(a.values))
	}
	if a.err != nil {
		lines = append(lines, "", lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Render("⚠ "+a.err.Error()))
	}
	return strings.Join(lines, "\n")
}

func (a *App) renderHistoryPanel() string {
	if len(a.history) == 0 {
		return ""
	}
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")).Render("EVALUATION")
	body := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).Render(strings.Join(a.history, "\n"))
	return head + "\n" + body
}

func (a *App) statusLine() string {
	switch a.state {
	case stateTraining:
		return a.spinner.View() + " training · q to stop"
	case stateDone:
		if a.err != nil {
			return "run failed · q to quit"
		}
		return "run complete · q to quit"
	}
	return ""
}

func formatValues(values map[string]float64) string {
	keys := sortedKeys(values)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%.4g", k, values[k]))
	}
	return strings.Join(parts, " ")
}

func formatTable(values map[string]float64) string {
	keys := sortedKeys(values)
	width := 0
	for _, k := range keys {
		width = max(width, len(k))
	}
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%-*s  %.6g", width, k, values[k]))
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(values map[string]float64) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
