package questions

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/quizforge/backend/internal/apperr"
	"github.com/quizforge/backend/internal/logger"
	"github.com/quizforge/backend/internal/middleware"
	"github.com/quizforge/backend/internal/models"
)

// maxBatchIDs bounds the ids accepted by one batch request.
const maxBatchIDs = 100

type Handler struct {
	service *Service
	log     *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, log: log.With("component", "QuestionHandler")}
}

// Routes registers the question, category and stats routes on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/questions/generate", h.Generate).Methods("POST")
	r.HandleFunc("/questions/import", h.Import).Methods("POST")
	r.HandleFunc("/questions", h.ListQuestions).Methods("GET")
	r.HandleFunc("/questions/validate", h.ValidateMany).Methods("POST")
	r.HandleFunc("/questions/validate-translation", h.ValidateTranslations).Methods("POST")
	r.HandleFunc("/questions/confirm", h.ConfirmMany).Methods("POST")
	r.HandleFunc("/questions/reject", h.RejectMany).Methods("DELETE")
	r.HandleFunc("/questions/{id}", h.GetQuestion).Methods("GET")
	r.HandleFunc("/questions/{id}/translate", h.Translate).Methods("POST")
	r.HandleFunc("/questions/{id}/validate", h.Validate).Methods("POST")
	r.HandleFunc("/questions/{id}/validate-translation", h.ValidateTranslation).Methods("POST")
	r.HandleFunc("/questions/{id}/confirm", h.Confirm).Methods("POST")
	r.HandleFunc("/questions/{id}/reject", h.Reject).Methods("DELETE")
	r.HandleFunc("/questions/{id}/promote", h.Promote).Methods("POST")

	r.HandleFunc("/categories/{id}/duplicates", h.Duplicates).Methods("GET")
	r.HandleFunc("/categories/{id}/cache", h.ClearCache).Methods("DELETE")

	r.HandleFunc("/stats/usage", h.UsageLog).Methods("GET")
	r.HandleFunc("/stats/usage", h.ClearUsage).Methods("DELETE")
	r.HandleFunc("/stats/usage/totals", h.UsageTotals).Methods("GET")
}

type idsRequest struct {
	IDs      []string `json:"ids"`
	Language string   `json:"language,omitempty"`
}

type translateRequest struct {
	Languages []string `json:"languages"`
}

type languageRequest struct {
	Language string `json:"language"`
}

type batchResponse struct {
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// ── Generation ─────────────────────────────────────────

func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" || req.Category <= 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "prompt and category are required"})
		return
	}
	resp, err := h.service.Generate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 5<<20)

	var req models.ImportRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" || req.Category <= 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "text and category are required"})
		return
	}
	resp, err := h.service.Import(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ── Queries ────────────────────────────────────────────

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := h.service.GetQuestion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.QuestionFilter{
		Text:  strings.TrimSpace(query.Get("text")),
		Page:  intQueryParam(query, "page", 1),
		Limit: intQueryParam(query, "limit", 20),
	}
	if s := query.Get("status"); s != "" {
		status := models.QuestionStatus(s)
		if !models.ValidStatuses[status] {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid status"})
			return
		}
		filter.Status = &status
	}
	if s := query.Get("type"); s != "" {
		t := models.QuestionType(s)
		if !models.ValidTypes[t] {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "type must be 'choice' or 'map'"})
			return
		}
		filter.Type = &t
	}
	if s := query.Get("difficulty"); s != "" {
		d, err := strconv.Atoi(s)
		if err != nil || d < 1 || d > 5 {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "difficulty must be between 1 and 5"})
			return
		}
		filter.Difficulty = &d
	}
	if s := query.Get("category"); s != "" {
		c, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid category ID"})
			return
		}
		filter.CategoryID = &c
	}

	resp, err := h.service.ListQuestions(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Translation & validation ───────────────────────────

func (h *Handler) Translate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	results, err := h.service.Translate(r.Context(), mux.Vars(r)["id"], req.Languages)
	h.writeBatch(w, r, results, err)
}

func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Validate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ValidateMany(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	results, err := h.service.ValidateMany(r.Context(), req.IDs)
	h.writeBatch(w, r, results, err)
}

func (h *Handler) ValidateTranslation(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Language) == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "language is required"})
		return
	}
	res, err := h.service.ValidateTranslation(r.Context(), mux.Vars(r)["id"], req.Language)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ValidateTranslations(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Language) == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "language is required"})
		return
	}
	results, err := h.service.ValidateTranslations(r.Context(), req.IDs, req.Language)
	h.writeBatch(w, r, results, err)
}

// ── Lifecycle ──────────────────────────────────────────

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := h.service.Confirm(r.Context(), id)
	h.audit(r, "confirm", err, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ConfirmMany(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	results, err := h.service.ConfirmMany(r.Context(), req.IDs)
	h.audit(r, "confirm", err, req.IDs...)
	h.writeBatch(w, r, results, err)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := h.service.Reject(r.Context(), id)
	h.audit(r, "reject", err, id)
	h.writeResult(w, r, res, err)
}

func (h *Handler) RejectMany(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	res, err := h.service.RejectMany(r.Context(), req.IDs)
	h.audit(r, "reject", err, req.IDs...)
	h.writeResult(w, r, res, err)
}

func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, err := h.service.Promote(r.Context(), id)
	h.audit(r, "promote", err, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// ── Categories ─────────────────────────────────────────

func (h *Handler) Duplicates(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r)
	if !ok {
		return
	}
	res, err := h.service.Duplicates(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	id, ok := categoryID(w, r)
	if !ok {
		return
	}
	if err := h.service.ClearCache(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Usage stats ────────────────────────────────────────

func (h *Handler) UsageLog(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.UsageFilter{
		Page:  intQueryParam(query, "page", 1),
		Limit: intQueryParam(query, "limit", 20),
	}
	var ok bool
	if filter.Kind, ok = usageKind(w, query); !ok {
		return
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &filter.From}, {"to", &filter.To}} {
		if s := query.Get(p.key); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: p.key + " must be an RFC 3339 timestamp"})
				return
			}
			*p.dst = &t
		}
	}
	for _, p := range []struct {
		key string
		dst **int
	}{{"minUnits", &filter.MinUnits}, {"maxUnits", &filter.MaxUnits}} {
		if s := query.Get(p.key); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: p.key + " must be a non-negative integer"})
				return
			}
			*p.dst = &n
		}
	}

	resp, err := h.service.UsageLog(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) UsageTotals(w http.ResponseWriter, r *http.Request) {
	kind, ok := usageKind(w, r.URL.Query())
	if !ok {
		return
	}
	totals, err := h.service.UsageTotals(r.Context(), kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *Handler) ClearUsage(w http.ResponseWriter, r *http.Request) {
	kind, ok := usageKind(w, r.URL.Query())
	if !ok {
		return
	}
	n, err := h.service.ClearUsage(r.Context(), kind)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// ── Helpers ────────────────────────────────────────────

// audit records which token subject ran a review action.
func (h *Handler) audit(r *http.Request, action string, err error, ids ...string) {
	by, _ := middleware.Subject(r.Context())
	h.log.Info("review action", "action", action, "by", by, "question_ids", ids, "outcome", apperr.HTTPStatus(err))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, models.ErrorResponse{Error: apperr.Message(err), Problems: apperr.Problems(err)})
}

// writeBatch writes a per-item result list. A partial failure is a 207
// carrying the full list; any other error replaces it.
func (h *Handler) writeBatch(w http.ResponseWriter, r *http.Request, results any, err error) {
	if err != nil && !errors.Is(err, apperr.ErrPartialBatch) {
		h.writeError(w, r, err)
		return
	}
	resp := batchResponse{Results: results}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

func (h *Handler) writeResult(w http.ResponseWriter, r *http.Request, res any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, apperr.ErrPartialBatch):
		writeJSON(w, http.StatusMultiStatus, res)
	default:
		h.writeError(w, r, err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}

func decodeIDs(w http.ResponseWriter, r *http.Request) (idsRequest, bool) {
	var req idsRequest
	if !decode(w, r, &req) {
		return req, false
	}
	if len(req.IDs) == 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "ids are required"})
		return req, false
	}
	if len(req.IDs) > maxBatchIDs {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "at most " + strconv.Itoa(maxBatchIDs) + " ids per request"})
		return req, false
	}
	return req, true
}

func categoryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid category ID"})
		return 0, false
	}
	return id, true
}

func usageKind(w http.ResponseWriter, query url.Values) (*models.UsageKind, bool) {
	s := query.Get("kind")
	if s == "" {
		return nil, true
	}
	kind := models.UsageKind(s)
	if !models.ValidUsageKinds[kind] {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid usage kind"})
		return nil, false
	}
	return &kind, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
