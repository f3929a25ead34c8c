package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"i4.energy/across/smsgw/at"
	"i4.energy/across/smsgw/modem"
)

var errMissingFields = errors.New("both 'to' and 'message' fields are required")

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *zap.Logger
	Modem  *modem.Session
	// Gateway serves POST /sms/queue when set
	Gateway *Gateway
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sms", s.handleSMS)
	mux.HandleFunc("POST /sms/queue", s.handleQueue)
	mux.HandleFunc("DELETE /sms", s.handleDeleteAll)
	mux.HandleFunc("GET /sms/{index}", s.handleReadSMS)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /battery", s.handleBattery)
	mux.HandleFunc("GET /registration", s.handleRegistration)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	s.sendJSON(w, resp, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", zap.Error(err))
	}
}

// modemError maps a failed modem request to a status code
func (s *Server) modemError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, modem.ErrMessageTooLong):
		s.sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, at.ErrMalformed):
		s.sendError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, modem.ErrTableFull):
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
	case modem.ResultOf(err) == modem.ResultTimedOut:
		s.sendError(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, modem.ErrResponse):
		s.sendError(w, err.Error(), http.StatusBadGateway)
	default:
		s.sendError(w, err.Error(), http.StatusInternalServerError)
	}
}

func decodeRequest(r *http.Request) (SMSRequest, error) {
	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if req.To == "" || req.Message == "" {
		return req, errMissingFields
	}
	return req, nil
}

// handleSMS processes incoming HTTP POST requests to send SMS messages
func (s *Server) handleSMS(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.Modem.SendSMS(r.Context(), req.To, req.Message); err != nil {
		s.Logger.Error("Failed to send SMS", zap.Error(err), zap.String("to", req.To))
		s.modemError(w, err)
		return
	}

	s.Logger.Info("SMS sent successfully", zap.String("to", req.To), zap.Int("message_length", len(req.Message)))
	w.WriteHeader(http.StatusOK)
}

// handleQueue accepts a message for asynchronous delivery
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.Gateway == nil {
		s.sendError(w, "", http.StatusNotFound)
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.Gateway.Enqueue(req)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.sendJSON(w, map[string]string{"status": "queued", "id": id}, http.StatusAccepted)
}

func (s *Server) handleReadSMS(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		s.sendError(w, "invalid message index", http.StatusBadRequest)
		return
	}

	msg, err := s.Modem.ReadSMS(r.Context(), index)
	if err != nil {
		s.Logger.Warn("Failed to read SMS", zap.Int("index", index), zap.Error(err))
		s.modemError(w, err)
		return
	}
	s.sendJSON(w, msg, http.StatusOK)
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.Modem.DeleteAllSMS(r.Context()); err != nil {
		s.Logger.Error("Failed to delete messages", zap.Error(err))
		s.modemError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	err := s.Modem.Status(r.Context())
	result := modem.ResultOf(err)

	type StatusResponse struct {
		Result string `json:"result"`
		Error  string `json:"error,omitempty"`
	}
	resp := StatusResponse{Result: result.String()}
	if err != nil {
		resp.Error = err.Error()
	}

	switch result {
	case modem.ResultOK:
		s.sendJSON(w, resp, http.StatusOK)
	case modem.ResultTimedOut:
		s.sendJSON(w, resp, http.StatusGatewayTimeout)
	default:
		s.sendJSON(w, resp, http.StatusBadGateway)
	}
}

func (s *Server) handleBattery(w http.ResponseWriter, r *http.Request) {
	battery, err := s.Modem.Battery(r.Context())
	if err != nil {
		s.modemError(w, err)
		return
	}
	s.sendJSON(w, battery, http.StatusOK)
}

func (s *Server) handleRegistration(w http.ResponseWriter, r *http.Request) {
	status, err := s.Modem.NetworkRegistration(r.Context())
	if err != nil {
		s.modemError(w, err)
		return
	}

	type RegistrationResponse struct {
		Status      int    `json:"status"`
		Description string `json:"description"`
		Registered  bool   `json:"registered"`
	}
	s.sendJSON(w, RegistrationResponse{
		Status:      int(status),
		Description: status.String(),
		Registered:  status.Registered(),
	}, http.StatusOK)
}
