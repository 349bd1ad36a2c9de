package views

import (
	"github.com/mentorchat/mentorchat/internal/reactions"
	"github.com/rivo/tview"
)

// ReactionPicker offers the emoji palette for one message.
type ReactionPicker struct {
	*tview.List
	messageID string
	onPick    func(messageID, emoji string)
}

// NewReactionPicker creates the picker.
func NewReactionPicker() *ReactionPicker {
	list := tview.NewList().ShowSecondaryText(false)
	list.SetBorder(true).SetTitle(" React ")

	rp := &ReactionPicker{List: list}
	for _, emoji := range reactions.Palette {
		e := emoji
		list.AddItem(sanitizeForTerminal(e), "", 0, func() {
			if rp.onPick != nil {
				rp.onPick(rp.messageID, e)
			}
		})
	}
	return rp
}

// SetOnPick sets the toggle callback.
func (rp *ReactionPicker) SetOnPick(fn func(messageID, emoji string)) {
	rp.onPick = fn
}

// Open targets the picker at a message.
func (rp *ReactionPicker) Open(messageID string) {
	rp.messageID = messageID
	rp.SetCurrentItem(0)
}
