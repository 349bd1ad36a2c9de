package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mentorchat/mentorchat/internal/auth"
	"github.com/mentorchat/mentorchat/internal/config"
	"github.com/mentorchat/mentorchat/internal/session"
	"github.com/mentorchat/mentorchat/internal/wire"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const maxUploadBytes = 25 << 20

// Server is the hub's HTTP surface: the row API, the realtime websocket,
// blob upload, and the assistant relay.
type Server struct {
	cfg       *config.HubConfig
	db        *DB
	hub       *Hub
	issuer    *auth.Issuer
	assistant *AssistantRelay
	logger    *zap.Logger
	httpSrv   *http.Server
}

// NewServer builds the hub HTTP server and its routes.
func NewServer(cfg *config.HubConfig, db *DB, h *Hub, issuer *auth.Issuer, relay *AssistantRelay, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		db:        db,
		hub:       h,
		issuer:    issuer,
		assistant: relay,
		logger:    logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/rows/{table}/select", s.handleSelect).Methods(http.MethodPost)
	api.HandleFunc("/rows/{table}/insert", s.handleInsert).Methods(http.MethodPost)
	api.HandleFunc("/rows/{table}/update", s.handleUpdate).Methods(http.MethodPost)
	api.HandleFunc("/rows/{table}/delete", s.handleDelete).Methods(http.MethodPost)
	api.HandleFunc("/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/ai-reply", s.handleAIReply).Methods(http.MethodPost)

	r.PathPrefix("/files/").Handler(http.StripPrefix("/files/",
		http.FileServer(http.Dir(session.FilesDir(cfg.DataDir)))))

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           cors.AllowAll().Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("hub server starting", zap.String("addr", s.cfg.Addr))
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.httpSrv.Serve(ln)
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("hub server stopping")
	_ = s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin mints an access token for an email. Delivery of the magic
// link is outside this system; the hub trusts the deployment to gate
// access to this endpoint (original design: email OTP).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	token, err := s.issuer.Issue(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	s.logger.Info("login token issued", zap.String("user", req.Email))
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "email": req.Email})
}

// authMiddleware verifies the bearer token and stashes the identity.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		email, err := s.issuer.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withEmail(r.Context(), email)))
	})
}

type ctxKey int

const emailKey ctxKey = iota

func withEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailKey, email)
}

func emailFrom(ctx context.Context) string {
	email, _ := ctx.Value(emailKey).(string)
	return email
}

// handleWS authenticates via query param (browsers cannot set headers on
// websocket dials) and subscribes the caller to one room's streams.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}
	email, err := s.issuer.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, "missing room")
		return
	}
	serveWS(s.hub, w, r, email, roomID, s.logger)
}

type selectRequest struct {
	Filter map[string]any `json:"filter"`
	Order  string         `json:"order"`
	Limit  int            `json:"limit"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rows, err := s.db.SelectRows(table, req.Filter, req.Order, req.Limit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	var req struct {
		Rows []Row `json:"rows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rows, err := s.db.InsertRows(table, req.Rows)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, row := range rows {
		s.broadcastChange(wire.ChangeInsert, table, row, nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	var req struct {
		Patch  map[string]any `json:"patch"`
		Filter map[string]any `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rows, err := s.db.UpdateRows(table, req.Patch, req.Filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, row := range rows {
		s.broadcastChange(wire.ChangeUpdate, table, row, nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	var req struct {
		Filter map[string]any `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rows, err := s.db.DeleteRows(table, req.Filter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, row := range rows {
		s.broadcastChange(wire.ChangeDelete, table, nil, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows)})
}

// broadcastChange fans a committed row change out to subscribers.
// Message changes are scoped to their room; reaction and room table
// changes go to every client, since reaction state is rebuilt by full
// refetch and the room list is global.
func (s *Server) broadcastChange(typ wire.ChangeType, table string, newRow, oldRow Row) {
	roomID := ""
	if table == wire.TableMessages {
		row := newRow
		if row == nil {
			row = oldRow
		}
		roomID, _ = row["room_id"].(string)
	}
	data, err := wire.EncodeChange(typ, table, roomID, newRow, oldRow)
	if err != nil {
		s.logger.Error("failed to encode change frame", zap.Error(err))
		return
	}
	if roomID != "" {
		s.hub.BroadcastRoom(roomID, data)
	} else {
		s.hub.BroadcastAll(data)
	}
}

// handleUpload stores a blob and returns its public URL and metadata.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	name := uuid.New().String() + sanitizeExt(header.Filename)
	dst := filepath.Join(session.FilesDir(s.cfg.DataDir), name)
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}
	size, err := io.Copy(out, io.LimitReader(file, maxUploadBytes))
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(dst)
		writeError(w, http.StatusInternalServerError, "could not store file")
		return
	}

	s.logger.Info("file uploaded",
		zap.String("user", emailFrom(r.Context())),
		zap.String("name", header.Filename),
		zap.Int64("size", size))
	writeJSON(w, http.StatusOK, map[string]any{
		"url":  "/files/" + name,
		"name": header.Filename,
		"type": header.Header.Get("Content-Type"),
		"size": size,
	})
}

// sanitizeExt keeps only a plain extension from an uploaded filename.
func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	for _, r := range ext {
		if r != '.' && (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func (s *Server) handleAIReply(w http.ResponseWriter, r *http.Request) {
	var req AssistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "missing message")
		return
	}
	reply, err := s.assistant.Reply(r.Context(), &req)
	if err != nil {
		s.logger.Warn("assistant relay failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "reply": reply})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
