// Package tui is the terminal front-end of the interactive review command.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/myrjola/valuebench/internal/conflict"
	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/models"
	"github.com/myrjola/valuebench/internal/review"
)

type state int

const (
	stateReviewer state = iota
	stateLoading
	stateCase
	stateReject
	stateEdit
	stateDone
)

// Opener starts review sessions. *review.Manager implements it.
type Opener interface {
	Open(ctx context.Context, reviewerID string) (*review.Session, error)
}

type (
	sessionMsg struct {
		session *review.Session
		err     error
	}
	caseMsg struct {
		c   *models.Case
		err error
	}
	decidedMsg struct {
		result review.Result
		err    error
	}
	quitMsg struct{ err error }
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle  = lipgloss.NewStyle().Bold(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7FD18B"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444"))
	tagStyles   = map[models.Tag]lipgloss.Style{
		models.Promotes: lipgloss.NewStyle().Foreground(lipgloss.Color("#7FD18B")),
		models.Violates: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		models.Neutral:  lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
)

// Review walks one reviewer through their queue. It prompts for the reviewer id unless one is given.
type Review struct {
	ctx     context.Context
	opener  Opener
	session *review.Session
	state   state
	current *models.Case

	reviewer   textinput.Model
	reason     textarea.Model
	categories textinput.Model
	editor     textarea.Model
	view       viewport.Model

	notice  string
	problem string
	decided int
	width   int
	err     error
}

func NewReview(ctx context.Context, opener Opener, reviewerID string) *Review {
	r := &Review{
		ctx:        ctx,
		opener:     opener,
		state:      stateReviewer,
		reviewer:   newInput("reviewer id"),
		reason:     newArea("why is this case rejected?"),
		categories: newInput(strings.Join(models.ProblemCategories, ", ")),
		editor:     newArea(""),
		view:       viewport.New(80, 20),
		width:      80,
	}
	r.reviewer.SetValue(reviewerID)
	r.reviewer.Focus()
	return r
}

func newInput(placeholder string) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.CharLimit = 256
	in.Cursor.SetMode(cursor.CursorStatic)
	return in
}

func newArea(placeholder string) textarea.Model {
	area := textarea.New()
	area.Placeholder = placeholder
	area.ShowLineNumbers = false
	area.CharLimit = 0
	area.SetWidth(78)
	area.SetHeight(12)
	area.Cursor.SetMode(cursor.CursorStatic)
	return area
}

func (r *Review) Init() tea.Cmd {
	if strings.TrimSpace(r.reviewer.Value()) != "" {
		r.state = stateLoading
		return r.open(r.reviewer.Value())
	}
	return nil
}

// Err returns the error that ended the program early, if any.
func (r *Review) Err() error {
	return r.err
}

// Decided counts the decisions made in this run.
func (r *Review) Decided() int {
	return r.decided
}

func (r *Review) open(reviewerID string) tea.Cmd {
	return func() tea.Msg {
		session, err := r.opener.Open(r.ctx, reviewerID)
		return sessionMsg{session: session, err: err}
	}
}

func (r *Review) next() tea.Cmd {
	session := r.session
	return func() tea.Msg {
		c, err := session.Current(r.ctx)
		return caseMsg{c: c, err: err}
	}
}

func (r *Review) decide(d review.Decision) tea.Cmd {
	session, caseID := r.session, r.current.ID
	return func() tea.Msg {
		result, err := session.Decide(r.ctx, caseID, d)
		return decidedMsg{result: result, err: err}
	}
}

func (r *Review) quit() tea.Cmd {
	session := r.session
	return func() tea.Msg {
		if session == nil {
			return quitMsg{err: nil}
		}
		return quitMsg{err: session.Quit(r.ctx)}
	}
}

func (r *Review) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		r.width = msg.Width
		r.view.Width = msg.Width
		r.view.Height = max(5, msg.Height-6)
		r.reason.SetWidth(max(20, msg.Width-2))
		r.editor.SetWidth(max(20, msg.Width-2))
		r.editor.SetHeight(max(5, msg.Height-8))
		r.render()
		return r, nil
	case sessionMsg:
		if msg.err != nil {
			r.state = stateReviewer
			r.problem = describe(msg.err)
			return r, nil
		}
		r.session = msg.session
		r.reviewer.Blur()
		return r, r.next()
	case caseMsg:
		if msg.err != nil {
			r.err = msg.err
			return r, r.quit()
		}
		r.current = msg.c
		if msg.c == nil {
			r.state = stateDone
			return r, nil
		}
		r.state = stateCase
		r.render()
		return r, nil
	case decidedMsg:
		return r.handleDecided(msg)
	case quitMsg:
		if msg.err != nil && r.err == nil {
			r.err = msg.err
		}
		return r, tea.Quit
	case tea.KeyMsg:
		return r.handleKey(msg)
	}
	return r, nil
}

func (r *Review) handleDecided(msg decidedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		// Refused decisions keep the reviewer in the form they came from so they can fix the input.
		r.problem = describe(msg.err)
		return r, nil
	}
	r.decided++
	r.problem = ""
	r.notice = fmt.Sprintf("%s %s: case is %s", msg.result.Evaluation.Decision, msg.result.Evaluation.CaseID,
		msg.result.Status)
	if !msg.result.Evaluation.Applied {
		r.notice += " (recorded, status unchanged by policy)"
	}
	r.reason.Reset()
	r.categories.Reset()
	r.state = stateLoading
	return r, r.next()
}

func (r *Review) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return r, r.quit()
	}
	var cmd tea.Cmd
	switch r.state {
	case stateReviewer:
		if key == "enter" {
			r.problem = ""
			r.state = stateLoading
			return r, r.open(r.reviewer.Value())
		}
		r.reviewer, cmd = r.reviewer.Update(msg)
	case stateLoading:
	case stateCase:
		switch key {
		case "a":
			return r, r.decide(review.Decision{Kind: models.DecisionApprove}) //nolint:exhaustruct // plain approval.
		case "r":
			r.state = stateReject
			r.problem = ""
			r.categories.Blur()
			r.reason.Focus()
		case "e":
			r.state = stateEdit
			r.problem = ""
			r.editor.SetValue(editableText(r.current))
			r.editor.Focus()
		case "q":
			return r, r.quit()
		default:
			r.view, cmd = r.view.Update(msg)
		}
	case stateReject:
		return r.handleRejectKey(msg)
	case stateEdit:
		return r.handleEditKey(msg)
	case stateDone:
		return r, r.quit()
	}
	return r, cmd
}

func (r *Review) handleRejectKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg.String() {
	case "esc":
		r.state = stateCase
		r.problem = ""
		r.reason.Blur()
		r.categories.Blur()
	case "tab":
		if r.reason.Focused() {
			r.reason.Blur()
			r.categories.Focus()
		} else {
			r.categories.Blur()
			r.reason.Focus()
		}
	case "ctrl+s":
		return r, r.decide(review.Decision{
			Kind:       models.DecisionReject,
			Reason:     strings.TrimSpace(r.reason.Value()),
			Categories: splitCategories(r.categories.Value()),
			Edited:     nil,
		})
	default:
		if r.reason.Focused() {
			r.reason, cmd = r.reason.Update(msg)
		} else {
			r.categories, cmd = r.categories.Update(msg)
		}
	}
	return r, cmd
}

func (r *Review) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg.String() {
	case "esc":
		r.state = stateCase
		r.problem = ""
		r.editor.Blur()
	case "ctrl+s":
		current, _ := r.current.Current()
		edited, err := parseEditable(r.editor.Value(), current)
		if err != nil {
			r.problem = describe(err)
			return r, nil
		}
		return r, r.decide(review.Decision{
			Kind:       models.DecisionEditApprove,
			Reason:     "",
			Categories: nil,
			Edited:     &edited,
		})
	default:
		r.editor, cmd = r.editor.Update(msg)
	}
	return r, cmd
}

func splitCategories(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// editable is the part of an iteration a reviewer may change with edit+approve.
type editable struct {
	Vignette string            `json:"vignette"`
	Choice1  string            `json:"choice_1"`
	Choice2  string            `json:"choice_2"`
	Tags     models.ChoiceTags `json:"value_tags"`
}

func editableText(c *models.Case) string {
	current, _ := c.Current()
	data, err := json.MarshalIndent(editable{
		Vignette: current.Vignette,
		Choice1:  current.Choice1,
		Choice2:  current.Choice2,
		Tags:     current.Tags,
	}, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

func parseEditable(text string, current models.Iteration) (models.Iteration, error) {
	var e editable
	dec := json.NewDecoder(strings.NewReader(text))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return models.Iteration{}, errors.Wrap(err, "parse edited case")
	}
	edited := current
	edited.Vignette = e.Vignette
	edited.Choice1 = e.Choice1
	edited.Choice2 = e.Choice2
	edited.Tags = e.Tags
	return edited, nil
}

// describe turns errors into a line for the reviewer.
func describe(err error) string {
	var invalid *conflict.ValidationError
	switch {
	case errors.As(err, &invalid):
		return "the edit breaks the value conflict: " + strings.Join(invalid.Result.Messages(), "; ")
	case errors.Is(err, review.ErrReasonRequired):
		return "a rejection needs a reason"
	case errors.Is(err, review.ErrUnknownCategory):
		return "unknown category, use one of: " + strings.Join(models.ProblemCategories, ", ")
	case errors.Is(err, models.ErrInvalidTag):
		return "every tag must be promotes, violates or neutral"
	default:
		return err.Error()
	}
}

func (r *Review) render() {
	if r.current == nil {
		return
	}
	current, _ := r.current.Current()
	width := max(20, r.width-2)
	wrap := lipgloss.NewStyle().Width(width)

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Case %s", r.current.ID)))
	b.WriteString(hintStyle.Render(fmt.Sprintf("  %s, iteration %d, %d left", r.current.Status, current.Index,
		r.session.Remaining())))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("Decision maker: ") + current.DecisionMaker + "\n\n")
	b.WriteString(wrap.Render(current.Vignette) + "\n\n")
	for i, choice := range []struct {
		text string
		tags models.ValueTagSet
	}{{current.Choice1, current.Tags.Choice1}, {current.Choice2, current.Tags.Choice2}} {
		b.WriteString(labelStyle.Render(fmt.Sprintf("Choice %d: ", i+1)))
		b.WriteString(wrap.Render(choice.text) + "\n")
		for _, p := range models.Principles {
			tag := choice.tags.Get(p)
			b.WriteString(fmt.Sprintf("  %-15s %s\n", p, tagStyles[tag].Render(string(tag))))
		}
		b.WriteString("\n")
	}
	if summary := conflict.ValidateTags(current.Tags).Summary(); summary == "VALID" {
		b.WriteString(noticeStyle.Render(summary))
	} else {
		b.WriteString(errorStyle.Render(wrap.Render(summary)))
	}
	r.view.SetContent(b.String())
	r.view.GotoTop()
}

func (r *Review) View() string {
	var body, hint string
	switch r.state {
	case stateReviewer:
		body = labelStyle.Render("Reviewer id") + "\n" + r.reviewer.View()
		hint = "enter: start  ctrl+c: quit"
	case stateLoading:
		body = hintStyle.Render("loading...")
	case stateCase:
		body = r.view.View()
		hint = "a: approve  e: edit then approve  r: reject  q: save and quit  ↑/↓: scroll"
	case stateReject:
		body = labelStyle.Render("Reason") + "\n" + r.reason.View() + "\n" +
			labelStyle.Render("Categories") + "\n" + r.categories.View()
		hint = "tab: switch field  ctrl+s: reject  esc: back"
	case stateEdit:
		body = labelStyle.Render("Edit the case, the tags must keep a value conflict") + "\n" + r.editor.View()
		hint = "ctrl+s: save and approve  esc: back"
	case stateDone:
		body = noticeStyle.Render(fmt.Sprintf("Queue finished, %d decisions this run.", r.decided))
		hint = "any key: quit"
	}

	var lines []string
	if r.notice != "" {
		lines = append(lines, noticeStyle.Render(r.notice))
	}
	lines = append(lines, boxStyle.Render(body))
	if r.problem != "" {
		lines = append(lines, errorStyle.Render(r.problem))
	}
	if hint != "" {
		lines = append(lines, hintStyle.Render(hint))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}
