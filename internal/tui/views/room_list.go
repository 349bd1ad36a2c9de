package views

import (
	"fmt"

	"github.com/mentorchat/mentorchat/internal/wire"
	"github.com/rivo/tview"
)

// RoomList shows every room with the active one highlighted.
type RoomList struct {
	*tview.List
	rooms      []wire.Room
	onSelected func(roomID string)
}

// NewRoomList creates the room sidebar.
func NewRoomList() *RoomList {
	list := tview.NewList().
		ShowSecondaryText(false).
		SetHighlightFullLine(true)
	list.SetBorder(true).SetTitle(" Rooms ")

	rl := &RoomList{List: list}
	list.SetSelectedFunc(func(index int, _, _ string, _ rune) {
		if rl.onSelected != nil && index >= 0 && index < len(rl.rooms) {
			rl.onSelected(rl.rooms[index].ID)
		}
	})
	return rl
}

// SetOnSelected sets the callback for choosing a room.
func (rl *RoomList) SetOnSelected(fn func(roomID string)) {
	rl.onSelected = fn
}

// Update refreshes the list, keeping the active room highlighted.
func (rl *RoomList) Update(rooms []wire.Room, selectedID string) {
	rl.rooms = rooms
	rl.Clear()
	for i, r := range rooms {
		label := fmt.Sprintf("# %s", sanitizeForTerminal(r.Name))
		rl.AddItem(label, "", 0, nil)
		if r.ID == selectedID {
			rl.SetCurrentItem(i)
		}
	}
}

// SelectedRoom returns the id under the cursor, or "".
func (rl *RoomList) SelectedRoom() string {
	i := rl.GetCurrentItem()
	if i < 0 || i >= len(rl.rooms) {
		return ""
	}
	return rl.rooms[i].ID
}
