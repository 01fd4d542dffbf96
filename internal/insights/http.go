package insights

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/loqalabs/aira-core/internal/graph"
)

const maxDocumentBytes = 16 << 20

var errNoGraphPath = errors.New("analytics.graph_path is not configured")

// LayoutResponse is a built graph plus the keys highlighted by the
// optional selected query parameter.
type LayoutResponse struct {
	graph.Graph
	Highlight []string `json:"highlight,omitempty"`
}

// Routes mounts the graph endpoints on mux.
func (s *Service) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/graph/alerts", s.handleAlerts)
	mux.HandleFunc("GET /v1/graph/alerts", s.handleFileAlerts)
	mux.HandleFunc("POST /v1/graph/layout", s.handleLayout)
}

func (s *Service) handleAlerts(w http.ResponseWriter, r *http.Request) {
	recent, baseline, err := windows(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	doc, err := graph.ParseDocument(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Analyze(r.Context(), doc, s.options(recent, baseline), SourceHTTP))
}

func (s *Service) handleFileAlerts(w http.ResponseWriter, r *http.Request) {
	recent, baseline, err := windows(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	evt, err := s.AnalyzeFile(r.Context(), recent, baseline)
	switch {
	case errors.Is(err, errNoGraphPath):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		s.logger.Warn("graph file analysis failed", slogError(err))
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (s *Service) handleLayout(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts, err := LayoutOptions(q)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	doc, err := graph.ParseDocument(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g := graph.Build(doc, opts)
	resp := LayoutResponse{Graph: g}
	if sel := q.Get("selected"); sel != "" {
		resp.Highlight = graph.ComputeNeighborhood(g, graph.Focus{Selected: sel}).Keys(g)
	}
	writeJSON(w, http.StatusOK, resp)
}

// LayoutOptions reads builder options from query values: emotion, relation,
// mode, hierarchy and a comma separated expanded cluster list.
func LayoutOptions(q url.Values) (graph.Options, error) {
	mode, err := graph.ParseMode(q.Get("mode"))
	if err != nil {
		return graph.Options{}, err
	}
	opts := graph.Options{
		Emotion:  q.Get("emotion"),
		Relation: q.Get("relation"),
		Mode:     mode,
	}
	if v := q.Get("hierarchy"); v != "" {
		if opts.Hierarchy, err = strconv.ParseBool(v); err != nil {
			return graph.Options{}, fmt.Errorf("hierarchy: %w", err)
		}
	}
	for _, part := range strings.Split(q.Get("expanded"), ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, ok := graph.ParseCluster(part)
		if !ok {
			return graph.Options{}, fmt.Errorf("unknown cluster %q", part)
		}
		opts.Expanded = append(opts.Expanded, c)
	}
	return opts, nil
}

func windows(q url.Values) (recent, baseline int, err error) {
	if recent, err = positiveInt(q, "recent_days"); err != nil {
		return 0, 0, err
	}
	if baseline, err = positiveInt(q, "baseline_days"); err != nil {
		return 0, 0, err
	}
	return recent, baseline, nil
}

func positiveInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
