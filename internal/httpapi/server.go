package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/openaudit/chronolog/internal/domain"
	"github.com/openaudit/chronolog/internal/repository"
	"github.com/openaudit/chronolog/internal/schema"
)

// Server is the read-only audit API: per-entity version listings and diffs
// over the activity table. It never writes; mutation stays with the host
// application's own session.
type Server struct {
	registry *schema.Registry
	store    repository.ActivityRepository
	now      func() time.Time
}

func NewServer(registry *schema.Registry, store repository.ActivityRepository) *Server {
	return &Server{registry: registry, store: store, now: time.Now}
}

// Handler returns the routed handler wrapped with CORS, actor capture and
// request logging.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /audit/{table}/versions", s.handleVersions)
	mux.HandleFunc("GET /audit/{table}/diff", s.handleDiff)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(LoggingMiddleware(ActorMiddleware(mux)))
}

type versionPayload struct {
	Version   int64          `json:"version"`
	Changed   string         `json:"changed"`
	Key       map[string]any `json:"key"`
	Data      map[string]any `json:"data"`
	UserInfo  map[string]any `json:"user_info"`
	ExtraInfo map[string]any `json:"extra_info"`
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	desc, key, ok := s.entityParams(w, r)
	if !ok {
		return
	}

	bounds := repository.TimeBounds{}
	if before, err := parseTimeParam(r, "before"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	} else if before != nil {
		bounds.Before = before
	}
	if after, err := parseTimeParam(r, "after"); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	} else if after != nil {
		bounds.After = after
	}

	rows, err := s.store.ListByEntity(r.Context(), desc.TableName, key, bounds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	payload := make([]versionPayload, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, versionPayload{
			Version:   row.Version,
			Changed:   domain.SerializeTime(row.Changed),
			Key:       row.Key,
			Data:      row.Data,
			UserInfo:  row.UserInfo,
			ExtraInfo: row.ExtraInfo,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": payload})
}

type diffChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	desc, key, ok := s.entityParams(w, r)
	if !ok {
		return
	}

	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if from == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing required from parameter"))
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if to == nil {
		now := s.now()
		to = &now
	}
	if to.Before(*from) {
		writeError(w, http.StatusBadRequest, &domain.ChronologyViolation{From: *from, To: *to})
		return
	}

	fromRow, err := s.store.LatestBefore(r.Context(), desc.TableName, key, *from)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	toRow, err := s.store.LatestBefore(r.Context(), desc.TableName, key, *to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var fromData, toData map[string]any
	if fromRow != nil {
		fromData = fromRow.Data
	}
	if toRow != nil {
		toData = toRow.Data
	}

	diff := map[string]diffChange{}
	for field, change := range domain.DiffData(fromData, toData) {
		diff[field] = diffChange{Old: change.Old, New: change.New}
	}
	writeJSON(w, http.StatusOK, map[string]any{"diff": diff})
}

// entityParams resolves the {table} path segment against the registry and
// decodes the key query parameter (a JSON object of primary-key values).
func (s *Server) entityParams(w http.ResponseWriter, r *http.Request) (*schema.Descriptor, map[string]any, bool) {
	table := r.PathValue("table")
	desc, ok := s.registry.Lookup(table)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown entity type %q", table))
		return nil, nil, false
	}

	rawKey := r.URL.Query().Get("key")
	if rawKey == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing required key parameter"))
		return nil, nil, false
	}
	key := map[string]any{}
	if err := json.Unmarshal([]byte(rawKey), &key); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid key parameter: %w", err))
		return nil, nil, false
	}
	return desc, key, true
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, domain.TimeFormat} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid %s parameter: %q is not a timestamp", name, raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
