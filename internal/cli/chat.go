package cli

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/memory-talk/internal/core"
	"github.com/valter-silva-au/memory-talk/pkg/models"
)

var chatStyle string

var chatCmd = &cobra.Command{
	Use:   "chat <job-id>",
	Short: "Chat with a confirmed persona",
	Long: `Open an interactive chat with the persona of a confirmed job. Replies stream in
as they are generated; press esc to stop a reply. When the agent is enabled in
the backend settings the persona may also send messages on its own.

--style selects how replies are grounded: prompt, rag or hybrid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]
		personaName := ""
		if Poller != nil {
			if job, err := Poller.Poll(commandContext(cmd), jobID); err == nil {
				personaName = job.SelectedSpeaker
			}
		}
		return runChat(jobID, personaName)
	},
}

func runChat(jobID, personaName string) error {
	if NewChat == nil {
		return fmt.Errorf("chat not initialized")
	}
	style := models.StyleMode(chatStyle)
	if chatStyle != "" && !style.IsValid() {
		return fmt.Errorf("unknown style mode %q (use prompt, rag or hybrid)", chatStyle)
	}

	session := NewChat(jobID, personaName)
	if chatStyle != "" {
		session.StyleMode = style
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(newChatModel(ctx, session), tea.WithAltScreen())
	session.Conversation().SetOnChange(func() { p.Send(conversationChangedMsg{}) })
	session.Start(ctx)
	defer session.Close()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running chat: %w", err)
	}
	return nil
}

// conversationChangedMsg signals that the session's messages changed.
type conversationChangedMsg struct{}

// replyDoneMsg carries the result of one submitted message.
type replyDoneMsg struct {
	err error
}

type chatModel struct {
	ctx     context.Context
	session *core.ChatSession

	messages []models.Message
	input    []rune
	sending  bool
	err      error

	width  int
	height int
}

func newChatModel(ctx context.Context, session *core.ChatSession) chatModel {
	return chatModel{
		ctx:      ctx,
		session:  session,
		messages: session.Conversation().Messages(),
	}
}

func (m chatModel) Init() tea.Cmd {
	return nil
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			m.session.Stop()
			return m, tea.Quit
		case tea.KeyEsc:
			if m.sending {
				m.session.Stop()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			text := string(m.input)
			if strings.TrimSpace(text) == "" {
				return m, nil
			}
			if m.sending {
				m.err = core.ErrStreamBusy
				return m, nil
			}
			m.input = nil
			m.err = nil
			m.sending = true
			return m, m.submit(text)
		case tea.KeyBackspace:
			if len(m.input) > 0 {
				m.input = m.input[:len(m.input)-1]
			}
			return m, nil
		case tea.KeySpace:
			m.input = append(m.input, ' ')
			return m, nil
		case tea.KeyRunes:
			m.input = append(m.input, msg.Runes...)
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case conversationChangedMsg:
		m.messages = m.session.Conversation().Messages()
		return m, nil

	case replyDoneMsg:
		m.sending = false
		m.err = msg.err
		m.messages = m.session.Conversation().Messages()
		return m, nil
	}

	return m, nil
}

func (m chatModel) submit(text string) tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		return replyDoneMsg{err: session.Submit(ctx, text)}
	}
}

func (m chatModel) View() string {
	var b strings.Builder

	title := fmt.Sprintf(" mtalk chat with %s ", m.session.PersonaName)
	b.WriteString(titleStyle.Render(title))
	b.WriteString(stampStyle.Render(fmt.Sprintf("  style: %s", m.session.StyleMode)))
	b.WriteString("\n\n")

	messages := m.messages
	if limit := m.height - 7; m.height > 0 && limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	if len(messages) == 0 {
		b.WriteString(helpStyle.Render("  Say hello to start the conversation."))
		b.WriteString("\n")
	}
	for _, msg := range messages {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("  " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(cursorStyle.Render("> "))
	b.WriteString(string(m.input))
	b.WriteString(cursorStyle.Render("_"))
	b.WriteString("\n\n")

	help := "enter: send | esc: quit | ctrl+c: quit"
	if m.sending {
		help = "streaming reply... | esc: stop | ctrl+c: quit"
	}
	b.WriteString(helpStyle.Render(help))
	return b.String()
}

func (m chatModel) renderMessage(msg models.Message) string {
	name := personaStyle.Render(m.session.PersonaName)
	if msg.IsUser {
		name = userStyle.Render("you")
	}
	return fmt.Sprintf("%s %s: %s", stampStyle.Render(msg.Timestamp), name, msg.Text)
}

func init() {
	chatCmd.Flags().StringVar(&chatStyle, "style", "", "Reply style mode: prompt, rag or hybrid")
	rootCmd.AddCommand(chatCmd)
}
