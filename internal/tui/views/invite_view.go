package views

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rivo/tview"
	qrcode "github.com/skip2/go-qrcode"
)

// InviteView displays a QR code that joins the current room: the hub
// URL and room id, scannable from another device.
type InviteView struct {
	*tview.TextView
}

// NewInviteView creates the invite view.
func NewInviteView() *InviteView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetTitle(" Invite ")
	return &InviteView{TextView: tv}
}

// Show renders the invite QR for a room.
func (iv *InviteView) Show(serverURL, roomID, roomName string) {
	iv.Clear()
	invite := fmt.Sprintf("mentorchat://join?server=%s&room=%s",
		url.QueryEscape(serverURL), url.QueryEscape(roomID))
	ascii := renderQR(invite)
	_, _ = fmt.Fprintf(iv, "\n  Scan to join #%s:\n\n%s\n  [::d]%s[-:-:-]",
		sanitizeForTerminal(roomName), ascii, invite)
}

// renderQR converts a string to a compact ASCII QR code using Unicode
// half-block characters.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}
	qr.DisableBorder = false

	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder

	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x]
			bot := false
			if y+1 < rows {
				bot = bitmap[y+1][x]
			}
			switch {
			case top && bot:
				sb.WriteRune('\u2588') // █
			case top && !bot:
				sb.WriteRune('\u2580') // ▀
			case !top && bot:
				sb.WriteRune('\u2584') // ▄
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}

	return sb.String()
}
