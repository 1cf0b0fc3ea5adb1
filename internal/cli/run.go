package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/pkg/models"
	"gopkg.in/yaml.v3"
)

var runJobID string

var runCmd = &cobra.Command{
	Use:   "run [chat-log.txt]",
	Short: "Guided flow from chat log upload to chat",
	Long: `Run the full memory-talk flow in one terminal UI: upload a chat log, follow
the analysis, pick the speaker when asked, review and confirm the persona, and
chat with it.

Pass --job instead of a file to resume a job that was uploaded earlier.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if NewFlow == nil {
			return fmt.Errorf("session flow not initialized")
		}
		var path string
		if len(args) == 1 {
			path = args[0]
		}
		if (path == "") == (runJobID == "") {
			return fmt.Errorf("give either a chat log file or --job, not both")
		}

		flow := NewFlow()
		defer flow.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		p := newFlowProgram(ctx, flow, path, runJobID, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("running flow: %w", err)
		}
		return nil
	},
}

// newFlowProgram wires flow notifications into a program running the flow
// model. Listeners block on Send until the event loop takes the message, so
// the model only calls flow methods that notify from inside a tea.Cmd.
func newFlowProgram(ctx context.Context, flow *core.SessionFlow, path, jobID string, opts ...tea.ProgramOption) *tea.Program {
	var p *tea.Program
	send := func(msg tea.Msg) { p.Send(msg) }
	p = tea.NewProgram(newFlowModel(ctx, flow, path, jobID, send), opts...)
	flow.Subscribe(func(s core.FlowSnapshot) { send(flowSnapshotMsg{snap: s}) })
	return p
}

// flowSnapshotMsg carries a flow change into the UI.
type flowSnapshotMsg struct {
	snap core.FlowSnapshot
}

// flowOpDoneMsg carries the result of an upload, selection or confirmation.
type flowOpDoneMsg struct {
	err error
}

// draftEditedMsg is sent when the external editor exits.
type draftEditedMsg struct {
	err error
}

type flowModel struct {
	ctx   context.Context
	flow  *core.SessionFlow
	path  string
	jobID string
	send  func(tea.Msg)

	snap     core.FlowSnapshot
	cursor   int
	busy     bool
	err      error
	chatting bool
	chat     chatModel

	width  int
	height int
}

func newFlowModel(ctx context.Context, flow *core.SessionFlow, path, jobID string, send func(tea.Msg)) flowModel {
	if send == nil {
		send = func(tea.Msg) {}
	}
	return flowModel{
		ctx:   ctx,
		flow:  flow,
		path:  path,
		jobID: jobID,
		send:  send,
		snap:  flow.Snapshot(),
	}
}

func (m flowModel) Init() tea.Cmd {
	return m.start()
}

// start uploads the chat log, or attaches to the given job.
func (m flowModel) start() tea.Cmd {
	ctx, flow, path, jobID := m.ctx, m.flow, m.path, m.jobID
	return func() tea.Msg {
		if path == "" {
			return flowOpDoneMsg{err: flow.Attach(jobID)}
		}
		f, err := os.Open(path)
		if err != nil {
			return flowOpDoneMsg{err: fmt.Errorf("opening chat log: %w", err)}
		}
		defer f.Close()
		return flowOpDoneMsg{err: flow.Upload(ctx, path, f)}
	}
}

func (m flowModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.chatting {
			updated, cmd := m.chat.Update(msg)
			m.chat = updated.(chatModel)
			return m, cmd
		}
		return m, nil

	case flowSnapshotMsg:
		prev := m.snap.State
		m.snap = msg.snap
		if m.snap.State == core.StateAwaitingSelection && prev != core.StateAwaitingSelection {
			m.cursor = 0
		}
		if m.snap.State == core.StateChatting && !m.chatting && m.snap.Session != nil {
			m.enterChat(m.snap.Session)
		}
		return m, nil

	case flowOpDoneMsg:
		m.busy = false
		m.err = msg.err
		m.snap = m.flow.Snapshot()
		if m.snap.State == core.StateChatting && !m.chatting && m.snap.Session != nil {
			m.enterChat(m.snap.Session)
		}
		return m, nil

	case draftEditedMsg:
		m.busy = true
		m.err = nil
		flow, editErr := m.flow, msg.err
		return m, func() tea.Msg {
			return flowOpDoneMsg{err: applyEditedDraft(flow, editErr)}
		}

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			if m.chatting {
				m.chat.session.Stop()
			}
			return m, tea.Quit
		}
		if m.chatting {
			updated, cmd := m.chat.Update(msg)
			m.chat = updated.(chatModel)
			return m, cmd
		}
		return m.handleKey(msg)
	}

	if m.chatting {
		updated, cmd := m.chat.Update(msg)
		m.chat = updated.(chatModel)
		return m, cmd
	}
	return m, nil
}

func (m *flowModel) enterChat(session *core.ChatSession) {
	m.chatting = true
	m.chat = newChatModel(m.ctx, session)
	m.chat.width, m.chat.height = m.width, m.height
	send := m.send
	session.Conversation().SetOnChange(func() { send(conversationChangedMsg{}) })
}

func (m flowModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "q" || key == "esc" {
		return m, tea.Quit
	}
	if m.busy {
		return m, nil
	}

	switch m.snap.State {
	case core.StateAwaitingSelection:
		speakers := m.speakers()
		switch key {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(speakers)-1 {
				m.cursor++
			}
		case "enter":
			if len(speakers) == 0 {
				m.err = core.ErrNoSpeaker
				return m, nil
			}
			m.busy = true
			m.err = nil
			ctx, flow, speaker := m.ctx, m.flow, speakers[m.cursor]
			return m, func() tea.Msg {
				return flowOpDoneMsg{err: flow.SelectSpeaker(ctx, speaker)}
			}
		}

	case core.StateReviewing:
		switch key {
		case "enter", "y":
			m.busy = true
			m.err = nil
			ctx, flow := m.ctx, m.flow
			return m, func() tea.Msg {
				_, err := flow.Confirm(ctx)
				return flowOpDoneMsg{err: err}
			}
		case "e":
			if Drafts == nil || m.snap.Draft == nil {
				return m, nil
			}
			return m, tea.ExecProcess(editorCommand(Drafts.DraftPath(m.snap.Draft.JobID)), func(err error) tea.Msg {
				return draftEditedMsg{err: err}
			})
		}

	case core.StateError:
		if key == "r" {
			m.busy = true
			m.err = nil
			flow, start := m.flow, m.start()
			return m, func() tea.Msg {
				if err := flow.Retry(); err != nil {
					return flowOpDoneMsg{err: err}
				}
				return start()
			}
		}
	}
	return m, nil
}

// applyEditedDraft loads the draft written by the editor into the flow.
func applyEditedDraft(flow *core.SessionFlow, editErr error) error {
	if editErr != nil {
		return fmt.Errorf("running editor: %w", editErr)
	}
	draft := flow.Snapshot().Draft
	if Drafts == nil || draft == nil {
		return nil
	}
	edited, err := Drafts.LoadDraft(draft.JobID)
	if err != nil {
		return err
	}
	if err := core.ValidateProfile(edited.Profile); err != nil {
		return err
	}
	return flow.UpdateProfile(func(p *models.PersonaProfile) {
		*p = edited.Profile
	})
}

func (m flowModel) speakers() []string {
	if m.snap.Job == nil {
		return nil
	}
	return m.snap.Job.Speakers
}

func (m flowModel) View() string {
	if m.chatting {
		return m.chat.View()
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(" mtalk "))
	b.WriteString("\n\n")

	var help string
	switch m.snap.State {
	case core.StateIdle, core.StateUploading:
		fmt.Fprintf(&b, "  Uploading %s...\n", m.path)
		help = "q: quit"

	case core.StateProcessing:
		b.WriteString(m.renderProgress())
		help = "q: quit"

	case core.StateAwaitingSelection:
		b.WriteString(headerStyle.Render("Whose persona should be extracted?"))
		b.WriteString("\n")
		for i, s := range m.speakers() {
			if i == m.cursor {
				b.WriteString(cursorStyle.Render("  > " + s))
			} else {
				b.WriteString("    " + s)
			}
			b.WriteString("\n")
		}
		help = "up/down: choose | enter: analyze | q: quit"

	case core.StateReviewing:
		b.WriteString(m.renderReview())
		help = "enter: confirm | e: edit | q: quit"

	case core.StateError:
		msg := "unknown error"
		if m.snap.Err != nil {
			msg = m.snap.Err.Error()
		}
		b.WriteString(errorStyle.Render("  Error: " + msg))
		b.WriteString("\n")
		help = "r: retry | q: quit"
	}

	if m.busy {
		b.WriteString("\n  Working...\n")
	}
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("  " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

func (m flowModel) renderProgress() string {
	job := m.snap.Job
	if job == nil {
		return fmt.Sprintf("  Job %s: waiting for the first status...\n", m.snap.JobID)
	}
	status := jobStatusStyle(job.Status).Render(string(job.Status))
	if job.Status == models.JobDone {
		return fmt.Sprintf("  Job %s: %s\n  %s\n", job.JobID, status, progressBar(100, 30))
	}
	return fmt.Sprintf("  Job %s: %s\n  %s\n", job.JobID, status, progressBar(job.Progress, 30))
}

func (m flowModel) renderReview() string {
	d := m.snap.Draft
	if d == nil {
		return "  Loading persona...\n"
	}
	var b strings.Builder
	name := d.SelectedSpeaker
	if name == "" {
		name = core.DefaultPersonaName
	}
	b.WriteString(headerStyle.Render("Persona: " + name))
	b.WriteString("\n")
	if d.Summary != "" {
		b.WriteString(d.Summary)
		b.WriteString("\n\n")
	}
	if data, err := yaml.Marshal(d.Profile); err == nil {
		b.WriteString(string(data))
	}
	return b.String()
}

func init() {
	runCmd.Flags().StringVar(&runJobID, "job", "", "Resume an already uploaded job")
	rootCmd.AddCommand(runCmd)
}
