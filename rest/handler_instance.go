package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/model"
	"go.uber.org/zap"
)

func (s *Server) HandleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req model.RunInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid instance payload"})
		return
	}
	defer r.Body.Close()
	instance, err := s.executionService.CreateInstance(r.Context(), req.Key, req.Version)
	if err != nil {
		logger.Error("error creating instance", zap.String("key", req.Key), zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, instance)
}

func (s *Server) HandleRunInstance(w http.ResponseWriter, r *http.Request) {
	var req model.RunInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid run payload"})
		return
	}
	defer r.Body.Close()
	instance, err := s.executionService.RunInstance(r.Context(), req)
	if err != nil {
		logger.Error("error running instance", zap.String("key", req.Key), zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, instance)
}

func (s *Server) HandleStartInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instanceId := vars["id"]
	var req model.StartInstanceRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
	}
	if err := s.executionService.StartInstance(r.Context(), instanceId, req); err != nil {
		logger.Error("error starting instance", zap.String("instance", instanceId), zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondOK(w, "started")
}

func (s *Server) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instanceId := vars["id"]
	instance, err := s.executionService.GetInstance(r.Context(), instanceId)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, instance)
}

func (s *Server) HandleTask(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instanceId := vars["id"]
	var req model.TaskCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid task payload"})
		return
	}
	defer r.Body.Close()
	if err := s.executionService.HandleTask(r.Context(), instanceId, req); err != nil {
		logger.Error("error handling task",
			zap.String("instance", instanceId),
			zap.String("status", string(req.Status)),
			zap.Error(err))
		respondWithError(w, err)
		return
	}
	respondOK(w, "task updated")
}

func (s *Server) HandleListUserTasks(w http.ResponseWriter, r *http.Request) {
	assignee := r.URL.Query().Get("assignee")
	instanceId := r.URL.Query().Get("instanceId")
	var tasks []*model.UserTask
	var err error
	switch {
	case assignee != "":
		tasks, err = s.executionService.UserTasksByAssignee(r.Context(), assignee)
	case instanceId != "":
		tasks, err = s.executionService.UserTasksByInstance(r.Context(), instanceId)
	default:
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "assignee or instanceId is required"})
		return
	}
	if err != nil {
		respondWithError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*model.UserTask{}
	}
	respondWithJSON(w, http.StatusOK, tasks)
}

func (s *Server) HandleInstanceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.executionService.Stats(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}
