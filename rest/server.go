package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/stagecraft/stagecraft/logger"
	"github.com/stagecraft/stagecraft/model"
	"github.com/stagecraft/stagecraft/service"
	"go.uber.org/zap"
)

type Server struct {
	http.Server
	Port             int
	metadataService  *service.MetadataService
	executionService *service.ExecutionService
}

func NewServer(httpPort int, metadataService *service.MetadataService, executionService *service.ExecutionService) (*Server, error) {
	s := &Server{
		Server: http.Server{
			Addr: fmt.Sprintf(":%d", httpPort),
		},
		Port:             httpPort,
		metadataService:  metadataService,
		executionService: executionService,
	}

	router := mux.NewRouter()
	router.HandleFunc("/definition", s.HandleSaveDefinition).Methods(http.MethodPost)
	router.HandleFunc("/definition", s.HandleListDefinitions).Methods(http.MethodGet)
	router.HandleFunc("/definition/{key}", s.HandleGetDefinition).Methods(http.MethodGet)
	router.HandleFunc("/definition/{key}", s.HandleDeleteDefinition).Methods(http.MethodDelete)
	router.HandleFunc("/instance", s.HandleCreateInstance).Methods(http.MethodPost)
	router.HandleFunc("/instance/run", s.HandleRunInstance).Methods(http.MethodPost)
	router.HandleFunc("/instance/stats", s.HandleInstanceStats).Methods(http.MethodGet)
	router.HandleFunc("/instance/{id}", s.HandleGetInstance).Methods(http.MethodGet)
	router.HandleFunc("/instance/{id}/start", s.HandleStartInstance).Methods(http.MethodPost)
	router.HandleFunc("/instance/{id}/task", s.HandleTask).Methods(http.MethodPost)
	router.HandleFunc("/user-task", s.HandleListUserTasks).Methods(http.MethodGet)
	router.Use(loggingMiddleware)
	s.Handler = router
	return s, nil
}

func (s *Server) Start() error {
	logger.Info("starting http server", zap.Int("port", s.Port))
	if err := s.ListenAndServe(); err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	logger.Info("stopping http server")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := s.Shutdown(ctx)
	if err != nil {
		logger.Error("error shutting down http server")
	}
	return nil
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info(r.RequestURI)
		next.ServeHTTP(w, r)
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, _ := json.Marshal(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondOK(w http.ResponseWriter, message string) {
	respondWithJSON(w, http.StatusOK, map[string]string{"message": message})
}

func respondWithError(w http.ResponseWriter, err error) {
	respondWithJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps the error taxonomy onto http codes.
func statusFor(err error) int {
	var validation model.ValidationError
	var invalid model.DefinitionInvalidError
	var notFound model.NotFoundError
	var conflict model.StateConflictError
	var connectorErr model.ConnectorError
	switch {
	case errors.As(err, &validation), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &connectorErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
