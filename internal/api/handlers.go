package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/contactbook/internal/model"
	"github.com/sells-group/contactbook/internal/store"
	"github.com/sells-group/contactbook/internal/tasks"
)

const (
	msgContactNotFound = "Contact not found"
	maxBodyBytes       = 1 << 20
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SubmitResponse acknowledges an accepted task.
type SubmitResponse struct {
	TaskID     string          `json:"task_id"`
	TaskStatus model.TaskState `json:"task_status"`
}

// StatusResponse reports on a dispatched task. Result is present only for a
// succeeded search and is an empty list when nothing matched.
type StatusResponse struct {
	State  model.TaskState        `json:"state"`
	Status string                 `json:"status,omitempty"`
	Result *[]model.Contact       `json:"result,omitempty"`
	Report *model.ReconcileReport `json:"report,omitempty"`
}

type contactRequest struct {
	RemoteID    string `json:"remote_id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Description string `json:"description"`
}

type handlers struct {
	store      ContactStore
	searcher   Searcher
	dispatcher tasks.Dispatcher
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		zap.L().Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// searchSync handles GET /api/v1/search?text=
func (h *handlers) searchSync(w http.ResponseWriter, r *http.Request) {
	text, ok := queryText(w, r)
	if !ok {
		return
	}
	contacts, err := h.searcher.Search(r.Context(), text)
	if err != nil {
		zap.L().Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if len(contacts) == 0 {
		writeError(w, http.StatusNotFound, msgContactNotFound)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// submitSearch handles GET /api/v2/search?text=
func (h *handlers) submitSearch(w http.ResponseWriter, r *http.Request) {
	text, ok := queryText(w, r)
	if !ok {
		return
	}
	id, err := h.dispatcher.SubmitSearch(r.Context(), text)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{TaskID: id, TaskStatus: model.TaskPending})
}

// submitReconcile handles POST /api/v2/reconcile
func (h *handlers) submitReconcile(w http.ResponseWriter, r *http.Request) {
	id, err := h.dispatcher.SubmitReconcile(r.Context())
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, SubmitResponse{TaskID: id, TaskStatus: model.TaskPending})
}

// taskStatus handles GET /api/v2/search/status/{task_id}
func (h *handlers) taskStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "task_id")
	st, err := h.dispatcher.Poll(r.Context(), id)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	if err != nil {
		zap.L().Error("poll failed", zap.String("task_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get task status")
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(st))
}

func newStatusResponse(st *model.TaskStatus) StatusResponse {
	resp := StatusResponse{State: st.State}
	switch st.State {
	case model.TaskPending:
		resp.Status = tasks.PendingMessage
	case model.TaskFailed:
		resp.Status = st.Error
	case model.TaskSucceeded:
		if st.Kind == model.TaskKindSearch {
			result := st.Contacts
			if result == nil {
				result = []model.Contact{}
			}
			resp.Result = &result
		}
		resp.Report = st.Report
	}
	return resp
}

// listContacts handles GET /api/v1/contacts?limit=&offset= and
// GET /api/v1/contacts?email=&remote_id= (exact lookup, zero or one result).
func (h *handlers) listContacts(w http.ResponseWriter, r *http.Request) {
	if email := strings.TrimSpace(r.URL.Query().Get("email")); email != "" {
		h.findContact(w, r, email, strings.TrimSpace(r.URL.Query().Get("remote_id")))
		return
	}
	if r.URL.Query().Get("remote_id") != "" {
		writeError(w, http.StatusBadRequest, "remote_id filter requires email")
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	contacts, err := h.store.ListContacts(r.Context(), store.ContactFilter{Limit: limit, Offset: offset})
	if err != nil {
		zap.L().Error("list contacts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list contacts")
		return
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (h *handlers) findContact(w http.ResponseWriter, r *http.Request, email, remoteID string) {
	c, err := h.store.FindContact(r.Context(), email, remoteID)
	if err != nil {
		zap.L().Error("find contact failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to find contact")
		return
	}
	contacts := []model.Contact{}
	if c != nil {
		contacts = append(contacts, *c)
	}
	writeJSON(w, http.StatusOK, contacts)
}

// getContact handles GET /api/v1/contacts/{id}
func (h *handlers) getContact(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	c, err := h.store.GetContact(r.Context(), id)
	if err != nil {
		zap.L().Error("get contact failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get contact")
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, msgContactNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// createContact handles POST /api/v1/contacts
func (h *handlers) createContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	c := model.Contact{
		RemoteID:    strings.TrimSpace(req.RemoteID),
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Email:       strings.TrimSpace(req.Email),
		Description: strings.TrimSpace(req.Description),
	}
	if c.IndexText() == "" && c.RemoteID == "" {
		writeError(w, http.StatusBadRequest, "contact has no fields")
		return
	}
	created, err := h.store.CreateContact(r.Context(), c)
	if err != nil {
		zap.L().Error("create contact failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create contact")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// listRuns handles GET /api/v1/runs?status=&limit=
func (h *handlers) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	filter := store.RunFilter{Status: model.RunStatus(r.URL.Query().Get("status")), Limit: limit}
	switch filter.Status {
	case "", model.RunStatusRunning, model.RunStatusComplete, model.RunStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "status must be running, complete or failed")
		return
	}
	runs, err := h.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.ReconcileRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func queryText(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !r.URL.Query().Has("text") {
		writeError(w, http.StatusBadRequest, "text query parameter is required")
		return "", false
	}
	return r.URL.Query().Get("text"), true
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}

func writeSubmitError(w http.ResponseWriter, err error) {
	if errors.Is(err, tasks.ErrQueueFull) || errors.Is(err, tasks.ErrStopped) {
		writeError(w, http.StatusServiceUnavailable, "task queue is full, retry later")
		return
	}
	zap.L().Error("submit failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to submit task")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
