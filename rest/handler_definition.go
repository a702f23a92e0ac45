package rest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/model"
	"go.uber.org/zap"
)

func (s *Server) HandleSaveDefinition(w http.ResponseWriter, r *http.Request) {
	var def model.ProcessDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid definition payload"})
		return
	}
	defer r.Body.Close()
	saved, err := s.metadataService.Save(r.Context(), def)
	if err != nil {
		logger.Error("error saving definition", zap.String("key", def.Key), zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, saved)
}

func (s *Server) HandleGetDefinition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["key"]
	def, err := s.metadataService.Get(r.Context(), key, versionParam(r))
	if err != nil {
		logger.Info("definition does not exist", zap.String("key", key))
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, def)
}

func (s *Server) HandleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["key"]
	if err := s.metadataService.Delete(r.Context(), key, versionParam(r)); err != nil {
		logger.Error("error deleting definition", zap.String("key", key), zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondOK(w, "deleted")
}

func (s *Server) HandleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.metadataService.List(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, defs)
}

func versionParam(r *http.Request) int {
	version, err := strconv.Atoi(r.URL.Query().Get("version"))
	if err != nil {
		return 0
	}
	return version
}
