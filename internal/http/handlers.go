package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oneops/oneops/internal/cloud/aws"
	"github.com/oneops/oneops/internal/domain"
	"github.com/oneops/oneops/internal/service/auth"
	"github.com/oneops/oneops/internal/service/cloud"
	"github.com/oneops/oneops/internal/service/deploy"
	"github.com/oneops/oneops/internal/sigv4"
	"github.com/oneops/oneops/internal/ws"
)

const wsPingInterval = 30 * time.Second

// deployer charges /deploy to the token's user when it is valid. Invalid
// tokens fall back to the client address; the pipeline rejects them anyway.
func (r *Router) deployer(req *http.Request) (subject, bool) {
	if r.auth == nil {
		return subject{}, false
	}
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil {
		return subject{}, false
	}
	id, err := r.auth.Authorize(req.Context(), token)
	if err != nil || id.UserID == "" {
		return subject{}, false
	}
	return userSubject(id.UserID), true
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	var payload deploy.Request
	if err := decodeJSON(w, req, &payload); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	token, _ := bearerToken(req.Header.Get("Authorization"))
	resp, err := r.deploy.Deploy(req.Context(), token, payload)

	status := http.StatusOK
	var authErr *auth.AuthError
	switch {
	case err == nil:
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case deploy.IsClientError(err):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	projects, err := r.projects.ListProjectsByOwner(req.Context(), info.UserID)
	if err != nil {
		r.logger.Error("list projects failed", "error", err, "user_id", info.UserID)
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	if projects == nil {
		projects = []domain.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (r *Router) handleEvents(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	limit, err := queryInt(req, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := queryInt(req, "offset")
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	events, err := r.events.List(req.Context(), info.UserID, limit, offset)
	if err != nil {
		r.logger.Error("list events failed", "error", err, "user_id", info.UserID)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.DeploymentEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func queryInt(req *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(req.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func (r *Router) hub(w http.ResponseWriter) (*ws.Hub, bool) {
	hub := r.events.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event streaming disabled")
		return nil, false
	}
	return hub, true
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for events websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	hub, ok := r.hub(w)
	if !ok {
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(info.UserID, client)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer func() {
			ticker.Stop()
			hub.Unregister(info.UserID, client)
			client.Close()
		}()
		for {
			select {
			case <-readDone:
				return
			case <-hub.Done():
				return
			case <-ticker.C:
				if err := client.Ping(); err != nil {
					return
				}
			}
		}
	}()
}

func (r *Router) handleEventStream(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	hub, ok := r.hub(w)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	hub.Register(info.UserID, client)
	defer func() {
		hub.Unregister(info.UserID, client)
		client.Close()
	}()

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-hub.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleCloudVerify(w http.ResponseWriter, req *http.Request) {
	var payload cloud.VerifyRequest
	if err := decodeJSON(w, req, &payload); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp, err := r.cloud.Verify(req.Context(), payload)
	status := http.StatusOK
	var formatErr *sigv4.CredentialFormatError
	var apiErr *aws.APIError
	switch {
	case err == nil:
	case errors.As(err, &formatErr):
		status = http.StatusBadRequest
	case errors.As(err, &apiErr):
		status = http.StatusUnauthorized
	default:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (r *Router) handleDispatch(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Repo     string `json:"repo"`
		Workflow string `json:"workflow"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	payload.Repo = strings.TrimSpace(payload.Repo)
	payload.Workflow = strings.TrimSpace(payload.Workflow)
	if payload.Repo == "" || payload.Workflow == "" {
		writeFailure(w, http.StatusBadRequest, "repo and workflow are required")
		return
	}
	if err := r.dispatcher.Dispatch(req.Context(), payload.Repo, payload.Workflow); err != nil {
		r.logger.Warn("workflow dispatch failed", "error", err, "repo", payload.Repo, "workflow", payload.Workflow)
		writeFailure(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true})
}
