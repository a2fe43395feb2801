// Package remote implements the zbox:// backend: an HTTP client
// (Backend) against a reference HTTP server (Server), used for
// integration tests and as a template for a real remote storage service.
// Routing follows the teacher's internal/api Handler: a gorilla/mux
// router with one route per storage.Backend call, vars carrying the
// record kind and key instead of an S3 bucket/key pair.
package remote

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

// Server is a reference in-memory implementation of the zbox:// wire
// protocol, backing every record with a storage.Backend of its own
// (normally storage/mem, in tests). It exists so storage/remote's
// client logic can be exercised end to end without a third-party
// service.
type Server struct {
	mu      sync.Mutex
	backend storage.Backend
	log     *logrus.Entry
}

// NewServer wraps backend behind the zbox:// HTTP protocol.
func NewServer(backend storage.Backend) *Server {
	return &Server{backend: backend, log: logrus.StandardLogger().WithField("component", "storage/remote.Server")}
}

// Router builds the gorilla/mux router exposing backend over HTTP.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/repo", s.handleExists).Methods(http.MethodGet)
	r.HandleFunc("/repo", s.handleInit).Methods(http.MethodPost)
	r.HandleFunc("/repo/connect", s.handleConnect).Methods(http.MethodPost)
	r.HandleFunc("/repo", s.handleDestroy).Methods(http.MethodDelete)
	r.HandleFunc("/repo/close", s.handleClose).Methods(http.MethodPost)
	r.HandleFunc("/repo/flush", s.handleFlush).Methods(http.MethodPost)
	r.HandleFunc("/super/{suffix}", s.handleSuperBlock).Methods(http.MethodGet, http.MethodPut)
	r.HandleFunc("/wal/{id}", s.handleWal).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	r.HandleFunc("/address/{id}", s.handleAddress).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	r.HandleFunc("/blocks/{begin}/{cnt}", s.handleBlocks).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	return r
}

func (s *Server) handleExists(w http.ResponseWriter, r *http.Request) {
	exists, err := s.backend.Exists(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Init(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	if err := s.backend.Connect(r.Context(), force); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Destroy(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Close(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.Flush(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSuperBlock(w http.ResponseWriter, r *http.Request) {
	suffix, err := strconv.Atoi(mux.Vars(r)["suffix"])
	if err != nil {
		http.Error(w, "bad suffix", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		data, err := s.backend.GetSuperBlock(r.Context(), suffix)
		if err != nil {
			writeErr(w, err)
			return
		}
		_, _ = w.Write(data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if err := s.backend.PutSuperBlock(r.Context(), suffix, data); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func parseID(hexStr string) (eid.ID, error) {
	var id eid.ID
	b, err := hex.DecodeString(hexStr)
	if err != nil || len(b) != len(id) {
		return id, storage.ErrInvalidURI("remote.parseID")
	}
	copy(id[:], b)
	return id, nil
}

func (s *Server) handleWal(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		data, err := s.backend.GetWal(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		_, _ = w.Write(data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if err := s.backend.PutWal(r.Context(), id, data); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if err := s.backend.DelWal(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodGet:
		data, err := s.backend.GetAddress(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		_, _ = w.Write(data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if err := s.backend.PutAddress(r.Context(), id, data); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if err := s.backend.DelAddress(r.Context(), id); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	begin, err1 := strconv.ParseUint(vars["begin"], 10, 64)
	cnt, err2 := strconv.ParseUint(vars["cnt"], 10, 32)
	if err1 != nil || err2 != nil {
		http.Error(w, "bad span", http.StatusBadRequest)
		return
	}
	span := storage.BlockSpan{Begin: begin, Cnt: uint32(cnt)}

	switch r.Method {
	case http.MethodGet:
		dst := make([]byte, span.Len())
		if err := s.backend.GetBlocks(r.Context(), dst, span); err != nil {
			writeErr(w, err)
			return
		}
		_, _ = w.Write(dst)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		if err := s.backend.PutBlocks(r.Context(), span, data); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		if err := s.backend.DelBlocks(r.Context(), span); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func writeErr(w http.ResponseWriter, err error) {
	if isNotFound(err) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
