package handlers

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"appshot/internal/mockup"
	"appshot/internal/upload"
	"appshot/internal/workflow"
)

const callbackPrefix = "as"

type callbackAction struct {
	Name string
	Arg  string
}

func cb(parts ...string) string {
	return callbackPrefix + ":" + strings.Join(parts, ":")
}

func parseCallback(data string) (callbackAction, bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] != callbackPrefix || parts[1] == "" {
		return callbackAction{}, false
	}
	a := callbackAction{Name: parts[1]}
	if len(parts) == 3 {
		a.Arg = parts[2]
	}
	return a, true
}

func uploadText(st workflow.State) string {
	var b strings.Builder
	b.WriteString("📱 AppShot\n\n")
	b.WriteString(fmt.Sprintf("Store: %s\n", st.Device))
	b.WriteString(fmt.Sprintf("Uploads (%d/%d):\n", len(st.Sources), upload.MaxFiles))
	if len(st.Sources) == 0 {
		b.WriteString("(none)\n")
	}
	for i, src := range st.Sources {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, truncateLine(src.Name, 40)))
	}

	switch {
	case st.Phase == workflow.PhaseGenerating:
		b.WriteString("\n🎨 Generating…")
	case len(st.Sources) == 0:
		b.WriteString("\n📷 Send up to 3 app screenshots (jpeg or png, under 25 MB).")
	case st.Remaining > 0:
		b.WriteString(fmt.Sprintf("\n📷 Send up to %d more, or tap Generate.", st.Remaining))
	default:
		b.WriteString("\n🎨 Tap Generate.")
	}
	return strings.TrimSpace(b.String())
}

func uploadKeyboard(st workflow.State) tgbotapi.InlineKeyboardMarkup {
	var storeRow []tgbotapi.InlineKeyboardButton
	for _, p := range mockup.Devices() {
		label := p.Name
		if p.Device == st.Device {
			label = "✅ " + label
		}
		storeRow = append(storeRow, tgbotapi.NewInlineKeyboardButtonData(label, cb("store", string(p.Device))))
	}
	rows := [][]tgbotapi.InlineKeyboardButton{storeRow}

	if len(st.Sources) > 0 {
		var removeRow []tgbotapi.InlineKeyboardButton
		for i := range st.Sources {
			removeRow = append(removeRow, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🗑 %d", i+1), cb("rm", strconv.Itoa(i))))
		}
		rows = append(rows, removeRow)
	}

	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("Cancel", cb("reset")),
		tgbotapi.NewInlineKeyboardButtonData("🎨 Generate", cb("gen")),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func slotKeyboard(index int) tgbotapi.InlineKeyboardMarkup {
	i := strconv.Itoa(index)
	return tgbotapi.NewInlineKeyboardMarkup(
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("✏️ Edit", cb("sel", i)),
			tgbotapi.NewInlineKeyboardButtonData("⬇️ Download", cb("dl", i)),
		},
	)
}

func previewFooterKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		[]tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData("🔁 Regenerate", cb("gen")),
			tgbotapi.NewInlineKeyboardButtonData("Start over", cb("reset")),
		},
	)
}

func slotCaption(index, total int, device mockup.Device) string {
	return fmt.Sprintf("%s screenshot %d/%d", device, index+1, total)
}

func truncateLine(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}
