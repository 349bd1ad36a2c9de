// Package tui is the terminal client: a room sidebar, the message
// timeline, a composer with typing signals, and modals for reactions,
// room management, and invites.
package tui

import (
	"context"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/mentorchat/mentorchat/internal/client"
	"github.com/mentorchat/mentorchat/internal/config"
	"github.com/mentorchat/mentorchat/internal/session"
	"github.com/mentorchat/mentorchat/internal/tui/model"
	"github.com/mentorchat/mentorchat/internal/tui/views"
	"github.com/mentorchat/mentorchat/internal/wire"
	"github.com/rivo/tview"
)

const flashDuration = 5 * time.Second

// App is the main TUI application shell.
type App struct {
	app    *tview.Application
	pages  *tview.Pages
	engine *client.Engine
	cfg    *config.Config
	flash  *model.Flash

	roomList  *views.RoomList
	msgView   *views.MessageView
	typingLn  *views.TypingLine
	composer  *views.Composer
	statusBar *views.StatusBar
	invite    *views.InviteView
	picker    *views.ReactionPicker

	sound     bool
	editingID string // message being edited, "" when composing new

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application around a started engine.
func NewApp(e *client.Engine, cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		engine:    e,
		cfg:       cfg,
		flash:     model.NewFlash(flashDuration),
		roomList:  views.NewRoomList(),
		msgView:   views.NewMessageView(),
		typingLn:  views.NewTypingLine(),
		composer:  views.NewComposer(),
		statusBar: views.NewStatusBar(),
		invite:    views.NewInviteView(),
		picker:    views.NewReactionPicker(),
		sound:     cfg.SoundEnabled,
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetIdentity(cfg.Email)
	a.statusBar.SetSound(a.sound)
	a.setupCallbacks()
	a.setupLayout()
	return a
}

// Notify rings the terminal bell for a remote message. Wired to the
// engine's notify hook; the engine already suppresses self echoes.
func (a *App) Notify(*wire.Message) {
	if a.sound {
		_, _ = os.Stdout.Write([]byte("\a"))
	}
}

// Refresh redraws everything from engine state. Safe from any
// goroutine; wired to the engine's change hook.
func (a *App) Refresh() {
	a.app.QueueUpdateDraw(a.redraw)
}

func (a *App) redraw() {
	rooms := a.engine.Rooms()
	selected := a.engine.Selected()
	a.roomList.Update(rooms, selected)

	roomName := ""
	if room, ok := a.engine.SelectedRoom(); ok {
		roomName = room.Name
	}
	a.msgView.Update(views.RenderData{
		RoomName:  roomName,
		Messages:  a.engine.Messages(),
		Self:      a.engine.Self(),
		Name:      a.engine.DisplayName,
		Reactions: a.engine.ReactionsFor,
	})
	a.typingLn.Update(a.engine.Typers(), a.engine.AssistantBusy())
	if a.engine.Online() {
		a.statusBar.SetStatus("connected")
	} else {
		a.statusBar.SetStatus("offline")
	}
	a.statusBar.SetFlash(a.flash.Get())
}

func (a *App) setupCallbacks() {
	a.roomList.SetOnSelected(func(roomID string) {
		if err := a.engine.SwitchRoom(roomID); err != nil {
			a.setFlash("Switch failed: " + err.Error())
		}
		a.app.SetFocus(a.composer.InputField)
	})

	a.composer.SetOnSend(func(text string) {
		if a.editingID != "" {
			id := a.editingID
			a.editingID = ""
			if err := a.engine.EditMessage(id, text); err != nil {
				a.setFlash("Edit failed: " + err.Error())
			}
			return
		}
		if err := a.engine.SendMessage(text); err != nil {
			a.setFlash("Send failed: " + err.Error())
		}
	})
	a.composer.SetOnKeystroke(a.engine.Keystroke)

	a.picker.SetOnPick(func(messageID, emoji string) {
		go func() {
			if err := a.engine.ToggleReaction(a.ctx, messageID, emoji); err != nil {
				a.setFlash("Reaction failed: " + err.Error())
			}
		}()
		a.closeModal()
	})
}

func (a *App) setupLayout() {
	right := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.typingLn, 1, 0, false).
		AddItem(a.composer, 1, 0, true)

	main := tview.NewFlex().
		AddItem(a.roomList, 24, 0, false).
		AddItem(right, 0, 1, true)

	a.pages.AddPage("main", main, true, true)
	a.pages.AddPage("invite", center(a.invite, 60, 24), true, false)
	a.pages.AddPage("react", center(a.picker, 20, 12), true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.app.SetInputCapture(a.handleKey)
}

// center wraps a primitive in a fixed-size centered frame.
func center(p tview.Primitive, width, height int) tview.Primitive {
	return tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 0, true).
			AddItem(nil, 0, 1, false), width, 0, true).
		AddItem(nil, 0, 1, false)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	page, _ := a.pages.GetFrontPage()

	if event.Key() == tcell.KeyEscape {
		if page != "main" {
			a.closeModal()
			return nil
		}
		if a.editingID != "" {
			a.editingID = ""
			a.composer.SetText("")
			a.setFlash("Edit cancelled")
			return nil
		}
		a.composer.SetText("")
		return nil
	}
	if page != "main" {
		return event
	}

	switch event.Key() {
	case tcell.KeyTab:
		if a.app.GetFocus() == a.composer.InputField {
			a.app.SetFocus(a.roomList)
		} else {
			a.app.SetFocus(a.composer.InputField)
		}
		return nil
	case tcell.KeyCtrlN:
		a.promptNewRoom()
		return nil
	case tcell.KeyCtrlR:
		a.openReactionPicker()
		return nil
	case tcell.KeyCtrlG:
		a.showInvite()
		return nil
	case tcell.KeyCtrlE:
		a.startEditLastOwn()
		return nil
	case tcell.KeyCtrlS:
		a.toggleSound()
		return nil
	}

	// Let the composer handle everything else while focused.
	if a.app.GetFocus() == a.composer.InputField {
		return event
	}

	if event.Key() == tcell.KeyRune {
		switch event.Rune() {
		case 'q':
			a.Stop()
			return nil
		case 'd':
			a.confirmDeleteRoom()
			return nil
		case 'i':
			a.app.SetFocus(a.composer.InputField)
			return nil
		case '@':
			a.composer.InsertMention(a.cfg.TriggerToken)
			a.app.SetFocus(a.composer.InputField)
			return nil
		}
	}
	return event
}

func (a *App) promptNewRoom() {
	input := tview.NewInputField().SetLabel(" Room name: ").SetFieldWidth(30)
	input.SetBorder(true).SetTitle(" New Room ")
	input.SetDoneFunc(func(key tcell.Key) {
		name := input.GetText()
		a.pages.RemovePage("newroom")
		a.app.SetFocus(a.composer.InputField)
		if key != tcell.KeyEnter {
			return
		}
		go func() {
			if _, err := a.engine.CreateRoom(a.ctx, name); err != nil {
				a.setFlash("Create failed: " + err.Error())
			}
		}()
	})
	a.pages.AddPage("newroom", center(input, 46, 3), true, true)
	a.app.SetFocus(input)
}

func (a *App) confirmDeleteRoom() {
	room, ok := a.engine.SelectedRoom()
	if !ok {
		return
	}
	modal := tview.NewModal().
		SetText("Delete room \"" + room.Name + "\" and all its messages?").
		AddButtons([]string{"Delete", "Cancel"}).
		SetDoneFunc(func(_ int, label string) {
			a.pages.RemovePage("confirm")
			a.app.SetFocus(a.composer.InputField)
			if label != "Delete" {
				return
			}
			go func() {
				if err := a.engine.DeleteRoom(a.ctx, room.ID); err != nil {
					a.setFlash("Delete failed: " + err.Error())
				}
			}()
		})
	a.pages.AddPage("confirm", modal, true, true)
	a.app.SetFocus(modal)
}

// openReactionPicker targets the newest message in the room.
func (a *App) openReactionPicker() {
	msgs := a.engine.Messages()
	if len(msgs) == 0 {
		return
	}
	a.picker.Open(msgs[len(msgs)-1].ID)
	a.pages.ShowPage("react")
	a.app.SetFocus(a.picker)
}

func (a *App) showInvite() {
	room, ok := a.engine.SelectedRoom()
	if !ok {
		return
	}
	a.invite.Show(a.cfg.ServerURL, room.ID, room.Name)
	a.pages.ShowPage("invite")
	a.app.SetFocus(a.invite)
}

// startEditLastOwn loads the local user's most recent message into the
// composer for editing.
func (a *App) startEditLastOwn() {
	msgs := a.engine.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].UserEmail == a.engine.Self() {
			a.editingID = msgs[i].ID
			a.composer.SetText(msgs[i].Content)
			a.app.SetFocus(a.composer.InputField)
			a.setFlash("Editing message, Esc to cancel")
			return
		}
	}
	a.setFlash("No message of yours to edit")
}

func (a *App) toggleSound() {
	a.sound = !a.sound
	a.statusBar.SetSound(a.sound)
	a.cfg.SoundEnabled = a.sound
	if err := config.Save(session.ConfigPath(), a.cfg); err != nil {
		a.setFlash("Could not save config: " + err.Error())
	}
}

func (a *App) closeModal() {
	a.pages.HidePage("invite")
	a.pages.HidePage("react")
	a.pages.SwitchToPage("main")
	a.app.SetFocus(a.composer.InputField)
}

func (a *App) setFlash(msg string) {
	a.flash.Set(msg)
	a.Refresh()
}

// Run starts the TUI event loop. Blocks until Stop.
func (a *App) Run() error {
	a.redraw()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
