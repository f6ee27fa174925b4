package app

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatdesk/gateway/internal/repo"
)

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChats(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "store_error", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chat_id")
	history, err := s.store.GetChat(r.Context(), id)
	if err != nil {
		writeChatStoreErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chat_id")
	if err := s.store.DeleteChat(r.Context(), id); err != nil {
		writeChatStoreErr(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func writeChatStoreErr(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, repo.ErrChatNotFound) {
		writeErr(w, http.StatusNotFound, "not_found", "chat not found", map[string]string{"chat_id": id})
		return
	}
	writeErr(w, http.StatusInternalServerError, "store_error", err.Error(), nil)
}
