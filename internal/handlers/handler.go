package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"appshot/internal/media"
	"appshot/internal/mediagroup"
	"appshot/internal/mockup"
	"appshot/internal/session"
	"appshot/internal/telegram"
	"appshot/internal/upload"
	"appshot/internal/workflow"
)

// Messenger is the part of the Telegram client the handler talks to.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendTextWithKeyboard(chatID int64, text string, kb telegram.Keyboard) error
	AnswerCallback(callbackID, text string, alert bool) error
	SendPhoto(chatID int64, img media.Image, caption string, kb *telegram.Keyboard) error
	SendDocument(chatID int64, img media.Image, filename string) error
	SendUploading(chatID int64)
	DownloadFile(ctx context.Context, fileID, name, mimeHint string) (upload.File, error)
}

type Options struct {
	Telegram    Messenger
	Backend     workflow.Backend
	Logger      *slog.Logger
	CallTimeout time.Duration
	MaxNotices  int
	Device      mockup.Device
}

type Handler struct {
	tg         Messenger
	backend    workflow.Backend
	logger     *slog.Logger
	sessions   *session.Store
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		tg:      opts.Telegram,
		backend: opts.Backend,
		logger:  logger,
	}
	h.sessions = session.NewStore(session.Options{
		MaxNotices: opts.MaxNotices,
		Factory: func(sess *session.Session) *workflow.Workflow {
			chatID, _ := strconv.ParseInt(sess.Key, 10, 64)
			return workflow.New(workflow.Options{
				Backend:     h.backend,
				Logger:      logger.With("chat_id", chatID),
				CallTimeout: opts.CallTimeout,
				Device:      opts.Device,
				OnEvent: func(ev workflow.Event) {
					sess.Record(ev)
					h.onEvent(chatID, sess.Workflow, ev)
				},
			})
		},
	})
	return h
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

// Sweep forgets chats idle for longer than maxIdle.
func (h *Handler) Sweep(maxIdle time.Duration) int {
	return h.sessions.Sweep(maxIdle)
}

func (h *Handler) workflowFor(chatID int64) *workflow.Workflow {
	return h.sessions.GetOrCreate(strconv.FormatInt(chatID, 10)).Workflow
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}
	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, msg)
	}

	if item, ok := uploadItem(msg); ok {
		if msg.MediaGroupID != "" && h.aggregator != nil {
			h.aggregator.Add(item)
			return nil
		}
		return h.addFiles(ctx, chatID, []mediagroup.Item{item})
	}

	if msg.Text != "" {
		return h.handleText(ctx, chatID, msg.Text)
	}

	return nil
}

func (h *Handler) HandleMediaGroup(ctx context.Context, group mediagroup.Group) {
	if err := h.addFiles(ctx, group.ChatID, group.Items); err != nil {
		h.logger.Error("media group processing failed", "chat_id", group.ChatID, "err", err)
	}
}

// uploadItem extracts an image from a photo or an image document.
func uploadItem(msg *tgbotapi.Message) (mediagroup.Item, bool) {
	item := mediagroup.Item{
		ChatID:       msg.Chat.ID,
		MediaGroupID: msg.MediaGroupID,
	}
	if msg.From != nil {
		item.UserID = msg.From.ID
	}

	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		item.FileID = photo.FileID
		item.Name = fmt.Sprintf("photo-%d.jpg", msg.MessageID)
		item.MIMEType = "image/jpeg"
	case msg.Document != nil && media.IsImageMIME(msg.Document.MimeType):
		item.FileID = msg.Document.FileID
		item.Name = msg.Document.FileName
		item.MIMEType = msg.Document.MimeType
	default:
		return mediagroup.Item{}, false
	}
	return item, true
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	wf := h.workflowFor(chatID)
	arg := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		if err := h.tg.SendText(chatID, startText); err != nil {
			return err
		}
		return h.sendPanel(chatID, wf)
	case "help":
		return h.tg.SendText(chatID, helpText)
	case "store":
		if arg == "" {
			return h.sendPanel(chatID, wf)
		}
		return h.selectDevice(chatID, wf, arg)
	case "generate":
		return h.generate(ctx, chatID, wf)
	case "remove":
		st := wf.State()
		idx, ok := parseSlotArg(arg, len(st.Sources))
		if !ok {
			return h.tg.SendText(chatID, fmt.Sprintf("❌ Usage: /remove N (1-%d).", max(len(st.Sources), 1)))
		}
		return h.removeFile(chatID, wf, idx)
	case "edit":
		st := wf.State()
		idx, ok := parseSlotArg(arg, len(st.Slots))
		if !ok {
			return h.tg.SendText(chatID, "❌ Usage: /edit N, after screenshots are generated.")
		}
		return h.selectSlot(chatID, wf, idx)
	case "reset":
		wf.Reset()
		if err := h.tg.SendText(chatID, "🔄 Started over."); err != nil {
			return err
		}
		return h.sendPanel(chatID, wf)
	case "status":
		return h.sendStatus(chatID, wf)
	default:
		return h.tg.SendText(chatID, "❌ Unknown command. Use /help.")
	}
}

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q.Message == nil {
		return h.tg.AnswerCallback(q.ID, "", false)
	}
	chatID := q.Message.Chat.ID

	action, ok := parseCallback(q.Data)
	if !ok {
		return h.tg.AnswerCallback(q.ID, "", false)
	}
	_ = h.tg.AnswerCallback(q.ID, "", false)

	wf := h.workflowFor(chatID)
	switch action.Name {
	case "store":
		return h.selectDevice(chatID, wf, action.Arg)
	case "gen":
		return h.generate(ctx, chatID, wf)
	case "rm":
		idx, err := strconv.Atoi(action.Arg)
		if err != nil {
			return nil
		}
		return h.removeFile(chatID, wf, idx)
	case "sel":
		idx, err := strconv.Atoi(action.Arg)
		if err != nil {
			return nil
		}
		return h.selectSlot(chatID, wf, idx)
	case "dl":
		idx, err := strconv.Atoi(action.Arg)
		if err != nil {
			return nil
		}
		return h.download(chatID, wf, idx)
	case "reset":
		wf.Reset()
		return h.sendPanel(chatID, wf)
	}
	return nil
}

func (h *Handler) handleText(ctx context.Context, chatID int64, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	wf := h.workflowFor(chatID)
	st := wf.State()

	if st.View == workflow.ViewUpload {
		if d, ok := deviceFromText(text); ok {
			return h.selectDevice(chatID, wf, string(d))
		}
		return h.sendPanel(chatID, wf)
	}

	if wf.Update(text) {
		return h.tg.SendText(chatID, fmt.Sprintf("⏳ Updating screenshot %d…", st.Selected+1))
	}
	return h.tg.SendText(chatID, updateRefusal(wf.State()))
}

func updateRefusal(st workflow.State) string {
	if st.Phase == workflow.PhaseGenerating {
		return "⏳ Screenshots are still being generated."
	}
	slot, ok := st.SelectedSlot()
	switch {
	case !ok:
		return "👆 Tap ✏️ Edit under a screenshot first."
	case slot.Pending:
		return fmt.Sprintf("⏳ Screenshot %d is still updating.", st.Selected+1)
	case !slot.HasImage():
		return fmt.Sprintf("❌ Screenshot %d has no image to edit.", st.Selected+1)
	}
	return "❌ Describe the change you want."
}

func (h *Handler) addFiles(ctx context.Context, chatID int64, items []mediagroup.Item) error {
	if len(items) == 0 {
		return nil
	}
	h.tg.SendUploading(chatID)

	files := make([]upload.File, len(items))
	ok := make([]bool, len(items))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(upload.MaxFiles)
	for i, it := range items {
		i, it := i, it
		eg.Go(func() error {
			f, err := h.tg.DownloadFile(egCtx, it.FileID, it.Name, it.MIMEType)
			if err != nil {
				h.logger.Warn("upload download failed", "chat_id", chatID, "file_id", it.FileID, "err", err)
				return nil
			}
			files[i] = f
			ok[i] = true
			return nil
		})
	}
	_ = eg.Wait()

	downloaded := make([]upload.File, 0, len(files))
	for i, f := range files {
		if ok[i] {
			downloaded = append(downloaded, f)
		}
	}

	wf := h.workflowFor(chatID)
	accepted, err := wf.AddFiles(downloaded)
	if errors.Is(err, workflow.ErrNotUploadView) {
		return h.tg.SendText(chatID, "ℹ️ Screenshots are already generated. Use /reset to start over with new uploads.")
	}
	if err != nil {
		return err
	}

	if dropped := len(items) - len(accepted); dropped > 0 {
		_ = h.tg.SendText(chatID, fmt.Sprintf("⚠️ %d file(s) skipped: only images under 25 MB, at most %d in total.", dropped, upload.MaxFiles))
	}
	return h.sendPanel(chatID, wf)
}

func (h *Handler) selectDevice(chatID int64, wf *workflow.Workflow, value string) error {
	d, ok := mockup.ParseDevice(value)
	if !ok {
		return h.tg.SendText(chatID, "❌ Unknown store. Choose App Store or Google Play.")
	}
	if err := wf.SelectDeviceType(d); err != nil {
		return h.tg.SendText(chatID, "❌ "+err.Error())
	}
	return h.sendPanel(chatID, wf)
}

func (h *Handler) removeFile(chatID int64, wf *workflow.Workflow, idx int) error {
	err := wf.RemoveFile(idx)
	switch {
	case errors.Is(err, workflow.ErrNotUploadView):
		return h.tg.SendText(chatID, "ℹ️ Use /reset to change uploads after generating.")
	case errors.Is(err, upload.ErrIndexOutOfRange):
		return nil
	case err != nil:
		return err
	}
	return h.sendPanel(chatID, wf)
}

func (h *Handler) generate(ctx context.Context, chatID int64, wf *workflow.Workflow) error {
	err := wf.Generate(ctx)
	switch {
	case errors.Is(err, workflow.ErrNoSources):
		return h.tg.SendText(chatID, "📷 Send at least one screenshot first.")
	case errors.Is(err, workflow.ErrGenerationPending):
		return h.tg.SendText(chatID, "⏳ Already generating.")
	case err != nil:
		return err
	}

	st := wf.State()
	h.tg.SendUploading(chatID)
	return h.tg.SendText(chatID, fmt.Sprintf("🎨 Generating %d %s screenshot(s)…", len(st.Slots), st.Device))
}

func (h *Handler) selectSlot(chatID int64, wf *workflow.Workflow, idx int) error {
	if err := wf.Select(idx); err != nil {
		return h.tg.SendText(chatID, "❌ That screenshot is not available.")
	}
	return h.tg.SendText(chatID, fmt.Sprintf("✏️ Screenshot %d selected. Send the change you want, e.g. \"make the background dark blue\".", idx+1))
}

func (h *Handler) download(chatID int64, wf *workflow.Workflow, idx int) error {
	img, name, err := wf.Export(idx)
	if err != nil {
		return h.tg.SendText(chatID, "❌ That screenshot is not ready yet.")
	}
	return h.tg.SendDocument(chatID, img, name)
}

func (h *Handler) sendPanel(chatID int64, wf *workflow.Workflow) error {
	st := wf.State()
	if st.View == workflow.ViewPreview {
		return h.sendStatus(chatID, wf)
	}
	return h.tg.SendTextWithKeyboard(chatID, uploadText(st), uploadKeyboard(st))
}

func (h *Handler) sendStatus(chatID int64, wf *workflow.Workflow) error {
	st := wf.State()
	if st.View == workflow.ViewUpload {
		return h.tg.SendTextWithKeyboard(chatID, uploadText(st), uploadKeyboard(st))
	}
	return h.tg.SendTextWithKeyboard(chatID, previewText(st), previewFooterKeyboard())
}

func previewText(st workflow.State) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📱 %s screenshots\n\n", st.Device))
	for i, s := range st.Slots {
		status := "ready"
		switch {
		case s.Pending:
			status = "working…"
		case !s.HasImage():
			status = "empty"
		}
		marker := "  "
		if i == st.Selected {
			marker = "👉"
		}
		b.WriteString(fmt.Sprintf("%s %d. %s\n", marker, i+1, status))
	}
	if st.Draft != "" {
		b.WriteString(fmt.Sprintf("\nLast request: %s", truncateLine(st.Draft, 80)))
	}
	return strings.TrimSpace(b.String())
}

// onEvent delivers settled backend calls to the chat. Events overtaken by a
// reset or a newer batch are not shown. A failed batch bumps the epoch once.
func (h *Handler) onEvent(chatID int64, wf *workflow.Workflow, ev workflow.Event) {
	st := wf.State()
	current := ev.Epoch
	if ev.Kind == workflow.EventGenerationFailed {
		current++
	}
	if st.Epoch != current {
		return
	}

	var err error
	switch ev.Kind {
	case workflow.EventGenerated:
		for i, s := range st.Slots {
			if !s.HasImage() {
				continue
			}
			kb := slotKeyboard(i)
			if err = h.tg.SendPhoto(chatID, s.Image, slotCaption(i, len(st.Slots), st.Device), &kb); err != nil {
				break
			}
		}
		if err == nil {
			err = h.tg.SendTextWithKeyboard(chatID, "✅ Done. Tap ✏️ Edit under a screenshot and describe a change, or ⬇️ Download it.", previewFooterKeyboard())
		}
	case workflow.EventGenerationFailed:
		err = h.tg.SendTextWithKeyboard(chatID, "❌ Generation failed. Your uploads are kept, try again.", uploadKeyboard(st))
	case workflow.EventUpdated:
		if ev.Slot < 0 || ev.Slot >= len(st.Slots) {
			return
		}
		kb := slotKeyboard(ev.Slot)
		err = h.tg.SendPhoto(chatID, st.Slots[ev.Slot].Image, fmt.Sprintf("✅ Screenshot %d updated", ev.Slot+1), &kb)
	case workflow.EventUpdateFailed:
		err = h.tg.SendText(chatID, fmt.Sprintf("❌ Could not update screenshot %d. The previous version is kept.", ev.Slot+1))
	}
	if err != nil {
		h.logger.Error("event delivery failed", "chat_id", chatID, "kind", ev.Kind.String(), "err", err)
	}
}

const startText = "📱 AppShot\n\n" +
	"Turn raw app screenshots into store-ready images.\n\n" +
	"1. Send up to 3 screenshots.\n" +
	"2. Pick App Store or Google Play.\n" +
	"3. Tap Generate, then edit any result by describing the change."

const helpText = "📱 AppShot help\n\n" +
	"/store [app_store|google_play] - choose the target store\n" +
	"/generate - create the store screenshots\n" +
	"/remove N - drop upload N\n" +
	"/edit N - select generated screenshot N for editing\n" +
	"/status - show the current state\n" +
	"/reset - start over"
