package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// TypingLine shows who is typing under the message pane.
type TypingLine struct {
	*tview.TextView
}

// NewTypingLine creates the indicator line.
func NewTypingLine() *TypingLine {
	tv := tview.NewTextView().SetDynamicColors(true)
	return &TypingLine{TextView: tv}
}

// Update redraws the indicator for the given display names. When an
// assistant reply is in flight that takes precedence.
func (tl *TypingLine) Update(typers []string, assistantBusy bool) {
	tl.Clear()
	if assistantBusy {
		_, _ = fmt.Fprint(tl, " [purple::d]MentorAI is thinking...[-:-:-]")
		return
	}
	if len(typers) == 0 {
		return
	}
	verb := "is"
	if len(typers) > 1 {
		verb = "are"
	}
	names := sanitizeForTerminal(strings.Join(typers, ", "))
	_, _ = fmt.Fprintf(tl, " [::d]%s %s typing...[-:-:-]", names, verb)
}
