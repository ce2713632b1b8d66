package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/hession/aimem/internal/memory"
)

// CommandSuggestion a shell command and its description
type CommandSuggestion struct {
	Text        string
	Description string
}

// Commands executes shell commands against an App. Every command returns
// its output as a string so the shell and tests share one code path.
type Commands struct {
	app *App
}

// NewCommands creates a command handler
func NewCommands(app *App) *Commands {
	return &Commands{app: app}
}

// Execute runs one input line. Lines without a leading slash are recorded as
// user messages. exit is true once the user asked to quit.
func (c *Commands) Execute(ctx context.Context, line string) (output string, exit bool) {
	input := strings.TrimSpace(line)
	if input == "" {
		return "", false
	}
	if !strings.HasPrefix(input, "/") {
		return c.put(ctx, memory.RoleUser, input), false
	}

	command, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(command) {
	case "/user":
		return c.put(ctx, memory.RoleUser, rest), false
	case "/assistant":
		return c.put(ctx, memory.RoleAssistant, rest), false
	case "/system":
		return c.put(ctx, memory.RoleSystem, rest), false
	case "/tool":
		return c.put(ctx, memory.RoleTool, rest), false
	case "/get":
		return c.get(ctx), false
	case "/all":
		return c.all(ctx), false
	case "/wait":
		if err := c.app.Manager.Wait(ctx); err != nil {
			return fmt.Sprintf("❌ Wait failed: %v", err), false
		}
		return "✅ All flushes ingested", false
	case "/reset":
		if err := c.app.Manager.Reset(ctx); err != nil {
			return fmt.Sprintf("❌ Reset failed: %v", err), false
		}
		return "✅ Memory reset", false
	case "/stats":
		return formatStats(c.app.Manager.Stats()), false
	case "/sessions":
		return c.sessions(ctx), false
	case "/help":
		return helpText(), false
	case "/exit", "/quit", "/q":
		return "Goodbye! 👋", true
	default:
		return fmt.Sprintf("❓ Unknown command: %s\nType /help for available commands", command), false
	}
}

func (c *Commands) put(ctx context.Context, role memory.Role, text string) string {
	if text == "" {
		return fmt.Sprintf("❌ Usage: /%s <text>", role)
	}
	if err := c.app.Manager.Put(ctx, memory.NewMessage(role, text)); err != nil {
		return fmt.Sprintf("❌ Put failed: %v", err)
	}
	s := c.app.Manager.Stats()
	return fmt.Sprintf("✅ %s message stored (short-term: %d messages, %d/%d tokens)",
		role, s.ShortTermMessages, s.ShortTermTokens, s.ShortTermCeiling)
}

func (c *Commands) get(ctx context.Context) string {
	view, err := c.app.Manager.Render(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Get failed: %v", err)
	}
	return FormatView(view, c.app.Manager.Stats().TokenLimit)
}

func (c *Commands) all(ctx context.Context) string {
	msgs, err := c.app.Manager.GetAll(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Failed to load session: %v", err)
	}
	if len(msgs) == 0 {
		return "📋 Session is empty"
	}
	return FormatMessages(msgs, 0)
}

func (c *Commands) sessions(ctx context.Context) string {
	lister, ok := c.app.Sessions.(memory.SessionLister)
	if !ok {
		return "❌ Session store cannot list sessions"
	}
	list, err := lister.ListSessions(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Failed to list sessions: %v", err)
	}
	return FormatSessions(list, c.app.Manager.SessionID())
}

// FormatView renders a merged view with its token accounting and warnings
func FormatView(view *memory.View, limit int) string {
	var b strings.Builder
	if len(view.Messages) == 0 {
		b.WriteString("📋 View is empty\n")
	} else {
		b.WriteString(FormatMessages(view.Messages, 0))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "── %d / %d tokens", view.TotalTokens, limit)
	if view.BudgetExhausted {
		b.WriteString(" (budget exhausted)")
	}
	for _, w := range view.Warnings {
		fmt.Fprintf(&b, "\n⚠️ %v", w)
	}
	return b.String()
}

// FormatMessages renders one line per message. maxLen > 0 shortens long texts.
func FormatMessages(msgs []memory.Message, maxLen int) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		text := m.Text()
		if maxLen > 0 {
			text = truncateForDisplay(text, maxLen)
		}
		lines[i] = fmt.Sprintf("[%s] %s", m.Role, text)
	}
	return strings.Join(lines, "\n")
}

// FormatSessions renders a session list, marking the current session
func FormatSessions(list []memory.Session, current string) string {
	if len(list) == 0 {
		return "📋 No sessions recorded"
	}
	var b strings.Builder
	b.WriteString("📋 Sessions\n")
	for _, s := range list {
		marker := " "
		if s.ID == current {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s  %3d messages  updated %s\n",
			marker, s.ID, s.MessageCount, s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatStats(s memory.Stats) string {
	var b strings.Builder
	b.WriteString("📊 Memory status\n\n")
	fmt.Fprintf(&b, "Session: %s\n", s.SessionID)
	fmt.Fprintf(&b, "Short-term: %d messages, %d / %d tokens\n", s.ShortTermMessages, s.ShortTermTokens, s.ShortTermCeiling)
	fmt.Fprintf(&b, "Token limit: %d\n", s.TokenLimit)
	fmt.Fprintf(&b, "Pending flushes: %d\n", s.PendingFlushes)
	if len(s.Blocks) == 0 {
		b.WriteString("Blocks: none")
		return b.String()
	}
	b.WriteString("Blocks:")
	for _, blk := range s.Blocks {
		fmt.Fprintf(&b, "\n  - %s (priority %d)", blk.Name, blk.Priority)
	}
	return b.String()
}

// truncateForDisplay flattens newlines and cuts text to maxLen runes
func truncateForDisplay(text string, maxLen int) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}

// GetCommandSuggestions lists shell commands for completion
func GetCommandSuggestions() []CommandSuggestion {
	return []CommandSuggestion{
		{Text: "/user", Description: "Record a user message"},
		{Text: "/assistant", Description: "Record an assistant message"},
		{Text: "/system", Description: "Record a system message"},
		{Text: "/tool", Description: "Record a tool message"},
		{Text: "/get", Description: "Show the merged, budgeted view"},
		{Text: "/all", Description: "Show the full session history"},
		{Text: "/wait", Description: "Wait for pending flushes"},
		{Text: "/reset", Description: "Reset short-term memory and blocks"},
		{Text: "/stats", Description: "Show memory status"},
		{Text: "/sessions", Description: "List recorded sessions"},
		{Text: "/help", Description: "Show help"},
		{Text: "/exit", Description: "Exit the shell"},
	}
}

func helpText() string {
	var b strings.Builder
	b.WriteString("📚 aimem shell\n\n")
	b.WriteString("Text without a leading slash is recorded as a user message.\n\n")
	for _, s := range GetCommandSuggestions() {
		fmt.Fprintf(&b, "  %-11s - %s\n", s.Text, s.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}
