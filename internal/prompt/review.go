package prompt

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/schemaguard/schemaguard/internal/engine"
	"github.com/schemaguard/schemaguard/internal/risk"
	"github.com/schemaguard/schemaguard/internal/sizing"
)

type keyMap struct {
	Confirm key.Binding
	Cancel  key.Binding
	Toggle  key.Binding
}

var keys = keyMap{
	Confirm: key.NewBinding(key.WithKeys("enter", "y"), key.WithHelp("enter", "write migrations")),
	Cancel:  key.NewBinding(key.WithKeys("q", "esc", "n", "ctrl+c"), key.WithHelp("q", "cancel")),
	Toggle:  key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "toggle SQL")),
}

// ReviewModel is the bubbletea model that asks for confirmation before
// migrations are written.
type ReviewModel struct {
	result     *engine.Result
	sql        viewport.Model
	showScript bool
	confirmed  bool
	done       bool
	cancelled  bool
	width      int
	height     int
}

// NewReviewModel creates a review model for an analysis.
func NewReviewModel(r *engine.Result) ReviewModel {
	vp := viewport.New(100, 12)
	vp.SetContent(migrationSQL(r))
	return ReviewModel{
		result: r,
		sql:    vp,
		width:  100,
		height: 24,
	}
}

func migrationSQL(r *engine.Result) string {
	var b strings.Builder
	for _, f := range r.Migrations {
		b.WriteString(f.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func (m ReviewModel) Init() tea.Cmd {
	return nil
}

func (m ReviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.sql.Width = msg.Width
		if h := msg.Height - 20; h > 5 {
			m.sql.Height = h
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Confirm):
			m.done = true
			m.confirmed = true
			return m, tea.Quit
		case key.Matches(msg, keys.Cancel):
			m.done = true
			m.cancelled = true
			return m, tea.Quit
		case key.Matches(msg, keys.Toggle):
			m.showScript = !m.showScript
			return m, nil
		}
	}

	if m.showScript {
		var cmd tea.Cmd
		m.sql, cmd = m.sql.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ReviewModel) View() string {
	var b strings.Builder
	r := m.result

	b.WriteString(titleStyle.Render("Review migration plan"))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("  Risk:       %s\n", RenderLevel(r.Level())))
	b.WriteString(fmt.Sprintf("  Operations: %d\n", r.Changes.Len()))
	if r.Plan.Staged {
		b.WriteString(fmt.Sprintf("  Plan:       staged, %d steps\n", len(r.Plan.Steps)))
	} else {
		b.WriteString("  Plan:       single step\n")
	}
	if r.Estimate != nil {
		b.WriteString(fmt.Sprintf("  Downtime:   ~%s\n", sizing.FormatDuration(r.Estimate.Total)))
	}
	if len(r.ModuleOrder) > 1 {
		b.WriteString(fmt.Sprintf("  Order:      %s\n", strings.Join(r.ModuleOrder, " → ")))
	}

	if ws := r.Risk.Aggregate.Warnings; len(ws) > 0 {
		b.WriteString("\n")
		b.WriteString(highlightStyle.Render("  Warnings"))
		b.WriteString("\n")
		for _, w := range ws {
			b.WriteString(warnStyle.Render("    - "+w) + "\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(highlightStyle.Render("  Migrations"))
	b.WriteString("\n")
	for _, f := range r.Migrations {
		b.WriteString(fmt.Sprintf("    %s  %s\n", LevelStyle(f.Risk).Render(fmt.Sprintf("%-6s", f.Risk)), f.Filename()))
	}

	b.WriteString("\n")
	if m.showScript {
		b.WriteString(m.sql.View())
		b.WriteString("\n")
	} else {
		b.WriteString(dimStyle.Render("  Press v to view the generated SQL"))
		b.WriteString("\n")
	}

	if r.Level() == risk.High {
		b.WriteString("\n")
		b.WriteString(errStyle.Render("  WARNING: this plan contains dangerous operations."))
		b.WriteString("\n")
		b.WriteString(errStyle.Render("  Make sure a backup exists before applying it."))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s: %s  %s: %s  %s: %s",
		keys.Toggle.Help().Key, keys.Toggle.Help().Desc,
		keys.Confirm.Help().Key, keys.Confirm.Help().Desc,
		keys.Cancel.Help().Key, keys.Cancel.Help().Desc)))

	return b.String()
}

// Done returns true when the model is finished.
func (m ReviewModel) Done() bool {
	return m.done
}

// Cancelled returns true if the user cancelled.
func (m ReviewModel) Cancelled() bool {
	return m.cancelled
}

// Confirmed returns true if the user confirmed.
func (m ReviewModel) Confirmed() bool {
	return m.confirmed
}

// Confirm shows the review screen and reports whether the user accepted
// the plan.
func Confirm(r *engine.Result, in io.Reader, out io.Writer) (bool, error) {
	opts := []tea.ProgramOption{tea.WithAltScreen()}
	if in != nil {
		opts = append(opts, tea.WithInput(in))
	}
	if out != nil {
		opts = append(opts, tea.WithOutput(out))
	}
	final, err := tea.NewProgram(NewReviewModel(r), opts...).Run()
	if err != nil {
		return false, fmt.Errorf("running review: %w", err)
	}
	rm := final.(ReviewModel)
	return rm.Confirmed(), nil
}
