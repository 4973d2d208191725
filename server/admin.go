package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"commlink/store"
)

// AdminHandler exposes the read-only operational surface over HTTP.
func (s *Server) AdminHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/stats", s.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/sessions", s.sessionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/transfers", s.transfersHandler).Methods(http.MethodGet)
	return r
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	users := s.Users()
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}

	writeJSON(w, map[string]any{
		"connections": len(users),
		"users":       names,
	})
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Users())
}

func (s *Server) transfersHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}

	records, err := s.store.RecentTransfers(50)
	if err != nil {
		log.Printf("Error reading transfer journal: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []store.TransferRecord{}
	}

	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding admin response: %v", err)
	}
}
