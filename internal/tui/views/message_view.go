package views

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mentorchat/mentorchat/internal/reactions"
	"github.com/mentorchat/mentorchat/internal/wire"
	"github.com/rivo/tview"
)

// MessageView displays the active room's timeline.
type MessageView struct {
	*tview.TextView
}

// RenderData is everything the view needs for one redraw.
type RenderData struct {
	RoomName  string
	Messages  []wire.Message
	Self      string
	Name      func(email string) string
	Reactions func(messageID string) map[string][]string
}

// NewMessageView creates the message pane.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")
	return &MessageView{TextView: tv}
}

// Update redraws the timeline.
func (mv *MessageView) Update(data RenderData) {
	mv.SetTitle(fmt.Sprintf(" # %s ", sanitizeForTerminal(data.RoomName)))
	mv.Clear()

	for _, m := range data.Messages {
		sender := data.Name(m.UserEmail)
		tag := "[::b]"
		switch {
		case wire.IsAssistant(m.UserEmail):
			tag = "[purple::b]"
		case m.UserEmail == data.Self:
			sender = "You"
		}

		ts := m.CreatedAt.Local().Format("15:04")
		edited := ""
		if m.EditedAt != nil {
			edited = " [::d](edited)[-:-:-]"
		}
		_, _ = fmt.Fprintf(mv, "%s%s[-:-:-] [::d]%s[-:-:-]%s\n",
			tag, sanitizeForTerminal(sender), ts, edited)

		if m.Content != "" {
			_, _ = fmt.Fprintf(mv, "%s\n", sanitizeForTerminal(m.Content))
		}
		if m.FileURL != "" {
			_, _ = fmt.Fprintf(mv, "[blue]📎 %s[-] [::d](%s)[-:-:-]\n",
				sanitizeForTerminal(m.FileName), formatSize(m.FileSize))
		}
		if line := reactionLine(data.Reactions(m.ID)); line != "" {
			_, _ = fmt.Fprintf(mv, "%s\n", line)
		}
		_, _ = fmt.Fprint(mv, "\n")
	}

	mv.ScrollToEnd()
}

// reactionLine renders e.g. "👍 2  🎉 1" in palette order.
func reactionLine(byEmoji map[string][]string) string {
	if len(byEmoji) == 0 {
		return ""
	}
	var parts []string
	for _, emoji := range orderedEmojis(byEmoji) {
		parts = append(parts, fmt.Sprintf("%s %d", emoji, len(byEmoji[emoji])))
	}
	return "[::d]" + strings.Join(parts, "  ") + "[-:-:-]"
}

// orderedEmojis lists present emojis in palette order, then any others.
func orderedEmojis(byEmoji map[string][]string) []string {
	var out []string
	seen := make(map[string]bool, len(byEmoji))
	for _, e := range reactions.Palette {
		if _, ok := byEmoji[e]; ok {
			out = append(out, e)
			seen[e] = true
		}
	}
	var extra []string
	for e := range byEmoji {
		if !seen[e] {
			extra = append(extra, e)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
