package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/gallerypack/internal/models"
	"github.com/RecoveryAshes/gallerypack/internal/utils"
	"github.com/go-chi/chi/v5"
)

const maxRequestBody = 64 * 1024

type submitRequest struct {
	URL  string `json:"url"`
	Mode string `json:"mode"`
	User string `json:"user"`
}

type fileLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type jobResponse struct {
	JobRecord
	Download  *models.DownloadResult `json:"download,omitempty"`
	Galleries []models.GalleryResult `json:"galleries,omitempty"`
	Files     []fileLink             `json:"files,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	JobID string `json:"job_id,omitempty"`
}

// handleSubmit POST /api/jobs
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "请求体不是有效的JSON"})
		return
	}

	req.URL = strings.TrimSpace(req.URL)
	if err := models.ValidateURL(req.URL); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	mode, err := models.ParseMode(req.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	user := strings.TrimSpace(req.User)
	if user == "" {
		user = r.Header.Get("X-User-ID")
	}
	if user == "" {
		user = "anonymous"
	}

	rec, err := s.store.Create(user, req.URL, mode)
	if errors.Is(err, ErrJobActive) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "已有进行中的任务,请等待完成后再提交", JobID: rec.ID})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	s.start(rec)
	utils.Infof("收到任务 %s: %s (%s, 用户 %s)", rec.ID, rec.URL, rec.Mode, rec.User)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": rec.ID, "status": string(rec.Status)})
}

// handleStatus GET /api/jobs/{id}
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "任务不存在"})
		return
	}
	writeJSON(w, http.StatusOK, s.buildResponse(r, rec))
}

// handleUserJobs GET /api/users/{user}/jobs
func (s *Server) handleUserJobs(w http.ResponseWriter, r *http.Request) {
	records := s.store.ListByUser(chi.URLParam(r, "user"))
	out := make([]jobResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, s.buildResponse(r, rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleStrategies GET /api/strategies
func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	domains := []string{}
	if s.opts.Domains != nil {
		domains = s.opts.Domains.ListSupportedDomains()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"domains": domains})
}

// handleFile GET /files/{name}?exp=&sig=
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !safeFileName(name) {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	if err := s.opts.Signer.Verify(name, q.Get("exp"), q.Get("sig")); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	f, err := os.Open(filepath.Join(s.opts.PublicRoot, name))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func (s *Server) buildResponse(r *http.Request, rec JobRecord) jobResponse {
	resp := jobResponse{JobRecord: rec}
	if rec.Result == nil {
		return resp
	}
	download := rec.Result.Download
	resp.Download = &download
	resp.Galleries = rec.Result.Galleries
	for _, path := range rec.Result.Files {
		name := filepath.Base(path)
		resp.Files = append(resp.Files, fileLink{Name: name, URL: s.opts.Signer.URL(s.baseURL(r), name)})
	}
	return resp
}

func (s *Server) baseURL(r *http.Request) string {
	if s.opts.PublicBaseURL != "" {
		return s.opts.PublicBaseURL
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// safeFileName 只允许发布目录下的普通文件名
func safeFileName(name string) bool {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return false
	}
	return filepath.Base(name) == name && !strings.HasSuffix(name, ".part")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Debugf("写入响应失败: %v", err)
	}
}
