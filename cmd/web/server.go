package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"appshot/internal/media"
	"appshot/internal/mockup"
	"appshot/internal/session"
	"appshot/internal/upload"
	"appshot/internal/workflow"
)

type serverOptions struct {
	Backend     workflow.Backend
	Logger      *slog.Logger
	CallTimeout time.Duration
	MaxNotices  int
}

type server struct {
	sessions *session.Store
	logger   *slog.Logger
}

type apiError struct {
	Error string `json:"error"`
}

type sourceJSON struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Bytes    int    `json:"bytes"`
}

type slotJSON struct {
	Index   int    `json:"index"`
	Pending bool   `json:"pending"`
	Image   string `json:"image,omitempty"`
}

type stateResponse struct {
	ID          string           `json:"id"`
	View        string           `json:"view"`
	Phase       string           `json:"phase"`
	Device      mockup.Device    `json:"device"`
	CanGenerate bool             `json:"can_generate"`
	Sources     []sourceJSON     `json:"sources"`
	Slots       []slotJSON       `json:"slots"`
	Selected    int              `json:"selected"`
	Draft       string           `json:"draft,omitempty"`
	Notices     []session.Notice `json:"notices,omitempty"`
}

func newServer(opts serverOptions) *server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &server{logger: logger}
	s.sessions = session.NewStore(session.Options{
		MaxNotices: opts.MaxNotices,
		Factory: func(sess *session.Session) *workflow.Workflow {
			return workflow.New(workflow.Options{
				Backend:     opts.Backend,
				Logger:      logger.With("session", sess.Key),
				CallTimeout: opts.CallTimeout,
				OnEvent: func(ev workflow.Event) {
					sess.Record(ev)
				},
			})
		},
	})
	return s
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/sessions", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.withSession(s.handleState)).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/files", s.withSession(s.handleAddFiles)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/files/{index:[0-9]+}", s.withSession(s.handleRemoveFile)).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/device", s.withSession(s.handleDevice)).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/generate", s.withSession(s.handleGenerate)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/selection", s.withSession(s.handleSelect)).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/draft", s.withSession(s.handleDraft)).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/update", s.withSession(s.handleUpdate)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", s.withSession(s.handleReset)).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/slots/{index:[0-9]+}/download", s.withSession(s.handleDownload)).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
	})
	return r
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

func (s *server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if _, err := uuid.Parse(id); err != nil {
			writeJSON(w, http.StatusNotFound, apiError{Error: "unknown session"})
			return
		}
		sess, ok := s.sessions.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, apiError{Error: "unknown session"})
			return
		}
		next(w, r, sess)
	}
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.GetOrCreate(uuid.NewString())
	s.logger.Info("session created", "session", sess.Key)
	writeJSON(w, http.StatusCreated, s.state(sess))
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(mux.Vars(r)["id"]) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "unknown session"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleState(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, s.state(sess))
}

func (s *server) handleAddFiles(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	const maxRequestBytes = upload.MaxFiles*upload.MaxFileBytes + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "missing files"})
		return
	}

	files := make([]upload.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readPart(fh)
		if err != nil {
			s.logger.Warn("upload read failed", "session", sess.Key, "name", fh.Filename, "err", err)
			continue
		}
		files = append(files, f)
	}

	if _, err := sess.Workflow.AddFiles(files); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state(sess))
}

func readPart(fh *multipart.FileHeader) (upload.File, error) {
	file, err := fh.Open()
	if err != nil {
		return upload.File{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, upload.MaxFileBytes+1))
	if err != nil {
		return upload.File{}, err
	}
	return upload.File{
		Name:     fh.Filename,
		MIMEType: media.Sniff(fh.Header.Get("Content-Type"), data),
		Data:     data,
	}, nil
}

func (s *server) handleRemoveFile(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	if err := sess.Workflow.RemoveFile(index); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state(sess))
}

func (s *server) handleDevice(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var body struct {
		Device string `json:"device"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}

	device, ok := mockup.ParseDevice(body.Device)
	if !ok {
		writeError(w, fmt.Errorf("%w: %q", workflow.ErrUnknownDevice, body.Device))
		return
	}
	if err := sess.Workflow.SelectDeviceType(device); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state(sess))
}

func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if err := sess.Workflow.Generate(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.state(sess))
}

func (s *server) handleSelect(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var body struct {
		Index *int `json:"index"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	if body.Index == nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "missing index"})
		return
	}
	if err := sess.Workflow.Select(*body.Index); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state(sess))
}

func (s *server) handleDraft(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	sess.Workflow.SetDraft(body.Text)
	writeJSON(w, http.StatusOK, s.state(sess))
}

// handleUpdate submits the given instruction, or the stored draft when the
// body carries none.
func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var body struct {
		Instruction *string `json:"instruction"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: err.Error()})
		return
	}
	instruction := sess.Workflow.Draft()
	if body.Instruction != nil {
		instruction = *body.Instruction
	}
	if !sess.Workflow.Update(instruction) {
		writeJSON(w, http.StatusConflict, apiError{Error: "update not submitted"})
		return
	}
	writeJSON(w, http.StatusAccepted, s.state(sess))
}

func (s *server) handleReset(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	sess.Workflow.Reset()
	writeJSON(w, http.StatusOK, s.state(sess))
}

func (s *server) handleDownload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	index, _ := strconv.Atoi(mux.Vars(r)["index"])
	img, name, err := sess.Workflow.Export(index)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("content-type", img.MIMEType)
	w.Header().Set("content-disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("content-length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (s *server) state(sess *session.Session) stateResponse {
	st := sess.Workflow.State()

	resp := stateResponse{
		ID:          sess.Key,
		View:        st.View.String(),
		Phase:       st.Phase.String(),
		Device:      st.Device,
		CanGenerate: st.CanGenerate(),
		Sources:     make([]sourceJSON, 0, len(st.Sources)),
		Slots:       make([]slotJSON, 0, len(st.Slots)),
		Selected:    st.Selected,
		Draft:       st.Draft,
		Notices:     sess.Notices(),
	}
	for _, src := range st.Sources {
		resp.Sources = append(resp.Sources, sourceJSON{
			Name:     src.Name,
			MIMEType: src.Image.MIMEType,
			Bytes:    len(src.Image.Data),
		})
	}
	for i, slot := range st.Slots {
		sj := slotJSON{Index: i, Pending: slot.Pending}
		if slot.HasImage() {
			sj.Image = slot.Image.DataURL()
		}
		resp.Slots = append(resp.Slots, sj)
	}
	return resp
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrUnknownDevice),
		errors.Is(err, workflow.ErrNoSources):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrIndexOutOfRange),
		errors.Is(err, workflow.ErrInvalidSlot),
		errors.Is(err, workflow.ErrNoImage):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrGenerationPending),
		errors.Is(err, workflow.ErrNotUploadView),
		errors.Is(err, workflow.ErrNotPreviewView):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), apiError{Error: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Info("http", "method", r.Method, "path", r.URL.Path, "dur_ms", time.Since(start).Milliseconds())
	})
}
