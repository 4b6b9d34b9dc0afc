package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"aqardesk/sync/internal/errkind"
	"aqardesk/sync/internal/importer"
	"aqardesk/sync/internal/mirror"
	"aqardesk/sync/internal/notify"
	"aqardesk/sync/internal/search"
	"aqardesk/sync/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Accept-Language")
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(r.Context()); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{"ok": status == "ready", "status": status, "checks": checks})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			s.writeFailure(w, r, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil))
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":    session.Token,
			"userId":   session.UserID,
			"userName": session.UserName,
			"email":    session.Email,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		_ = s.service.Logout(r.Context(), bearerToken(r))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Everything below requires a session.
	profile, err := s.service.Authenticate(r.Context(), bearerToken(r))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/clients":
		view := mirror.View{
			Query:      r.URL.Query().Get("query"),
			Status:     store.ClientStatus(r.URL.Query().Get("status")),
			AssignedTo: r.URL.Query().Get("assignedTo"),
		}
		clients := s.service.Clients(view)
		writeJSON(w, http.StatusOK, map[string]any{"clients": clients, "total": len(clients)})

	case r.Method == http.MethodPost && r.URL.Path == "/api/clients":
		var body AddClientInput
		if err := decodeBody(r, &body); err != nil {
			s.writeFailure(w, r, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil))
			return
		}
		client, err := s.service.AddClient(r.Context(), body)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": client.ID})

	case r.Method == http.MethodDelete && r.URL.Path == "/api/clients":
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			s.writeFailure(w, r, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil))
			return
		}
		if err := s.service.RemoveClients(r.Context(), body.IDs); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodGet && r.URL.Path == "/api/presence":
		counts, err := s.service.PresenceCounts(r.Context())
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)

	case r.Method == http.MethodGet && r.URL.Path == "/api/search":
		response := s.service.Search(search.Query{
			Text:         r.URL.Query().Get("q"),
			FilterStatus: r.URL.Query().Get("status"),
		})
		writeJSON(w, http.StatusOK, response)

	case r.Method == http.MethodPost && r.URL.Path == "/api/import":
		s.handleImport(w, r)

	case r.Method == http.MethodGet && r.URL.Path == "/api/notifications/unread":
		count, err := s.service.UnreadCount(r.Context(), profile.ID)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"unread": count})

	case r.Method == http.MethodPost && r.URL.Path == "/api/notifications":
		var body struct {
			UserID string `json:"userId"`
			Title  string `json:"title"`
			Body   string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			s.writeFailure(w, r, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil))
			return
		}
		if err := s.service.CreateNotification(r.Context(), body.UserID, body.Title, body.Body); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"ok": true})

	case r.Method == http.MethodPost && r.URL.Path == "/api/notifications/read":
		if err := s.service.MarkNotificationsRead(r.Context(), profile.ID); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case r.Method == http.MethodGet && r.URL.Path == "/api/settings/notifications":
		settings, err := s.service.NotificationSettings(r.Context(), profile.ID)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)

	case r.Method == http.MethodPut && r.URL.Path == "/api/settings/notifications":
		var body struct {
			Enabled  bool   `json:"enabled"`
			Sound    bool   `json:"sound"`
			Email    bool   `json:"email"`
			SoundURL string `json:"sound_url"`
		}
		if err := decodeBody(r, &body); err != nil {
			s.writeFailure(w, r, domainError(http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil))
			return
		}
		settings := notify.Settings{Enabled: body.Enabled, Sound: body.Sound, Email: body.Email, SoundURL: body.SoundURL}
		if err := s.service.SaveNotificationSettings(r.Context(), profile.ID, settings); err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		s.writeFailure(w, r, domainError(http.StatusNotFound, "NOT_FOUND", "no such route", nil))
	}
}

func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.writeFailure(w, r, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "multipart form required", nil))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeFailure(w, r, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "file field is required", nil))
		return
	}
	defer file.Close()

	overrides := make(map[int]importer.Field)
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			s.writeFailure(w, r, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "mapping must be a column-to-field object", nil))
			return
		}
	}

	result, err := s.service.RunImport(r.Context(), header.Filename, file, overrides)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeFailure converts any error into the localized toast envelope. Nothing
// is allowed to escape as an unhandled failure.
func (s *HTTPServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	lang := requestLang(r.Header.Get("Accept-Language"))

	var domain *DomainError
	if errors.As(err, &domain) {
		writeError(w, domain.Status, domain.Code, localizeCode(domain.Code, lang), domain.Details)
		return
	}

	switch errkind.Classify(err) {
	case errkind.KindAuth:
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", localizeCode("UNAUTHORIZED", lang), nil)
	case errkind.KindValidation:
		code := importErrorCode(err)
		writeError(w, http.StatusUnprocessableEntity, code, localizeCode(code, lang), err.Error())
	case errkind.KindNetwork:
		writeError(w, http.StatusBadGateway, "NETWORK_ERROR", localizeCode("NETWORK_ERROR", lang), nil)
	case errkind.KindNotFound:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	default:
		log.Printf("http: internal error on %s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", localizeCode("INTERNAL_ERROR", lang), nil)
	}
}

func importErrorCode(err error) string {
	switch {
	case errors.Is(err, importer.ErrPhoneUnmapped):
		return "IMPORT_PHONE_REQUIRED"
	case errors.Is(err, importer.ErrNoHeader), errors.Is(err, importer.ErrNoRows):
		return "IMPORT_EMPTY_SHEET"
	default:
		return "VALIDATION_ERROR"
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return ""
}

func decodeBody(r *http.Request, target any) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
