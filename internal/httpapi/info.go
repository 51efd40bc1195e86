package httpapi

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/you/chat-relay/internal/version"
)

type infoResponse struct {
	Version  string `json:"version"`
	Revision string `json:"rev,omitempty"`
	BuiltAt  string `json:"built_at,omitempty"`
	Go       string `json:"go"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		Version:  version.Version,
		Revision: version.Revision,
		BuiltAt:  version.BuiltAt,
		Go:       runtime.Version(),
		Sessions: s.reg.Len(),
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}
