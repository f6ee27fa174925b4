package app

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"chatdesk/gateway/internal/workspace"
)

const (
	maxFileBodyBytes   = 8 << 20
	defaultSearchLimit = 50
)

type fileListResponse struct {
	Files []workspace.FileInfo `json:"files"`
}

type fileSearchResponse struct {
	Query   string            `json:"query"`
	Matches []workspace.Match `json:"matches"`
}

type fileContentResponse struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Truncated bool   `json:"truncated"`
}

// listFiles lists the workspace, or fuzzy matches paths when q is given.
func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if q := strings.TrimSpace(query.Get("q")); q != "" {
		limit := defaultSearchLimit
		if raw := query.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeErr(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer", nil)
				return
			}
			limit = n
		}
		matches, err := s.workspace.Search(q, limit)
		if err != nil {
			writeFileErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, fileSearchResponse{Query: q, Matches: matches})
		return
	}
	files, err := s.workspace.List(query.Get("dir"))
	if err != nil {
		writeFileErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileListResponse{Files: files})
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	target, content, size, truncated, err := s.workspace.Read(chi.URLParam(r, "*"))
	if err != nil {
		writeFileErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileContentResponse{
		Path:      target.Relative,
		Content:   string(content),
		Size:      size,
		Truncated: truncated,
	})
}

func (s *Server) putFile(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFileBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeErr(w, http.StatusRequestEntityTooLarge, "payload_too_large", "file exceeds size limit", map[string]int64{"max_bytes": maxFileBodyBytes})
			return
		}
		writeErr(w, http.StatusBadRequest, "invalid_request", "invalid request body", nil)
		return
	}
	target, err := s.workspace.Put(chi.URLParam(r, "*"), body)
	if err != nil {
		writeFileErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"updated": true, "path": target.Relative, "size": len(body)})
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	if err := s.workspace.Delete(chi.URLParam(r, "*")); err != nil {
		writeFileErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func writeFileErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspace.ErrFileNotFound):
		writeErr(w, http.StatusNotFound, "file_not_found", "workspace file not found", nil)
	case errors.Is(err, workspace.ErrForbiddenPath):
		writeErr(w, http.StatusBadRequest, "forbidden_path", "path escapes the workspace", nil)
	case errors.Is(err, workspace.ErrInvalidPath), errors.Is(err, workspace.ErrPathRequired), errors.Is(err, workspace.ErrIsDirectory):
		writeErr(w, http.StatusBadRequest, "invalid_path", err.Error(), nil)
	default:
		writeErr(w, http.StatusInternalServerError, "store_error", err.Error(), nil)
	}
}
