// Package api exposes the retrieval engine over HTTP. The handlers are a
// thin shell: parse the request, run the orchestrated search, serialize the
// per-model results. Image bytes for results are served by the static mount
// only; the engine itself never interprets them.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"poisearch/internal/domain"
	"poisearch/internal/usecase"
)

// maxImageUpload bounds query-image uploads.
const maxImageUpload = 10 << 20

// Server wires the orchestrator, the optional history log and the static
// image mount into one HTTP handler.
type Server struct {
	searcher *usecase.Searcher
	history  *History
	ping     func() error // remote store reachability probe, may be nil
	topK     int
	static   string
	logger   *slog.Logger
}

// NewServer creates the HTTP front end. history and ping may be nil;
// static may be empty to disable the image mount.
func NewServer(searcher *usecase.Searcher, history *History, ping func() error, topK int, static string, logger *slog.Logger) *Server {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		searcher: searcher,
		history:  history,
		ping:     ping,
		topK:     topK,
		static:   static,
		logger:   logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/search/text", s.handleSearchText)
	mux.HandleFunc("/search/image", s.handleSearchImage)
	mux.HandleFunc("/history", s.handleHistory)
	if s.static != "" {
		mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.static))))
	}
	return mux
}

type statusResponse struct {
	Message string   `json:"message"`
	Models  []string `json:"models"`
	Store   bool     `json:"store"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	resp := statusResponse{Message: "poisearch is running"}
	for _, m := range s.searcher.Models() {
		resp.Models = append(resp.Models, string(m))
	}
	if s.ping != nil {
		resp.Store = s.ping() == nil
	}
	writeJSON(w, http.StatusOK, resp)
}

// modelResults is one model's slot in a search response. The response body
// is an ordered array, one element per requested model, in request order.
type modelResults struct {
	Model   string               `json:"model"`
	Results []domain.QueryResult `json:"results"`
	Error   string               `json:"error,omitempty"`
}

type searchResponse struct {
	Query   string         `json:"query,omitempty"`
	Results []modelResults `json:"results"`
}

func (s *Server) handleSearchText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	query := r.FormValue("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	s.runSearch(w, r, domain.Query{Text: query})
}

func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageUpload)
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file upload is required")
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload")
		return
	}

	s.runSearch(w, r, domain.Query{Image: image})
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, q domain.Query) {
	models, err := parseModels(r.FormValue("models"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	topK := s.topK
	if v := r.FormValue("top_k"); v != "" {
		topK, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "top_k must be an integer")
			return
		}
	}

	rs, err := s.searcher.Search(r.Context(), q, models, topK)
	if err != nil {
		var all *domain.AllModelsFailedError
		switch {
		case errors.As(err, &all):
			s.logger.Error("search failed on every model", "error", err)
			writeError(w, http.StatusBadGateway, err.Error())
		case errors.Is(err, domain.ErrInvalidK), errors.Is(err, domain.ErrUnknownModel):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("search failed", "error", err)
			writeError(w, http.StatusInternalServerError, "search failed")
		}
		return
	}

	if session := r.FormValue("session"); session != "" && s.history != nil {
		if err := s.history.Append(historyEntryFor(session, q, rs)); err != nil {
			s.logger.Warn("history append failed", "error", err)
		}
	}

	resp := searchResponse{Query: q.Text}
	for _, mr := range rs {
		slot := modelResults{
			Model:   string(mr.Model),
			Results: mr.Results,
		}
		if mr.Err != nil {
			slot.Error = mr.Err.Error()
		}
		resp.Results = append(resp.Results, slot)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	session := r.URL.Query().Get("session")
	if session == "" {
		writeError(w, http.StatusBadRequest, "session is required")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		limit, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}

	entries, err := s.history.List(session, limit)
	if err != nil {
		s.logger.Error("history read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history read failed")
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseModels(raw string) ([]domain.Model, error) {
	if raw == "" {
		return nil, nil
	}
	var models []domain.Model
	for _, part := range strings.Split(raw, ",") {
		m, err := domain.ParseModel(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return models, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAndServe runs the server until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("serving", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}
