// Package api exposes the ground station link over HTTP/JSON for operator
// consoles.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/dbehnke/mercurygs/internal/database"
	"github.com/dbehnke/mercurygs/internal/link"
	"github.com/dbehnke/mercurygs/internal/protocol"
)

const (
	DEFAULT_SAMPLE_LIMIT = 100
	MAX_SAMPLE_LIMIT     = 1000
	MAX_BODY_BYTES       = 64 << 10
	MAX_TIMEOUT_MS       = 24 * 60 * 60 * 1000 // one day
)

// Link is the part of the engine the API drives
type Link interface {
	SendTelemetryRequest(channel uint32, continuous bool) error
	SendTelecommandRequest(number uint32, argument [8]byte, continuous bool) error
	StopContinuous() error
	AdjustRate(rateHz float64) error
	SetTimeout(d time.Duration) error
	TransmitRaw(data []byte) error
	Stats() link.Stats
}

// SampleSource serves journalled telemetry
type SampleSource interface {
	SamplesForChannel(channel uint32, limit int) ([]database.TelemetrySample, error)
}

// Server holds API deps. Samples may be nil when the journal is disabled.
type Server struct {
	Link    Link
	Samples SampleSource
	Logger  *log.Logger
}

// New returns API server.
func New(l Link, samples SampleSource, logger *log.Logger) *Server {
	return &Server{Link: l, Samples: samples, Logger: logger}
}

// TelemetryRequest body.
type TelemetryRequest struct {
	Channel      *uint32 `json:"tlm_channel"`
	IsContinuous bool    `json:"is_continuous"`
}

// TelecommandRequest body.
type TelecommandRequest struct {
	Number       *uint32 `json:"telecommand_number"`
	Data         string  `json:"telecommand_data"`
	DataType     string  `json:"telecommand_data_type"`
	IsContinuous bool    `json:"is_continuous"`
}

// RateRequest body.
type RateRequest struct {
	Rate float64 `json:"rate"`
}

// TimeoutRequest body.
type TimeoutRequest struct {
	TimeoutMs int64 `json:"timeout_ms"`
}

// TransmitRequest body; data is hex, e.g. "0x55 0xDE 0xAD".
type TransmitRequest struct {
	Data string `json:"data"`
}

// StatusResponse body.
type StatusResponse struct {
	Status string `json:"status"`
}

// SampleDTO for GET /api/v1/telemetry/{channel}/samples.
type SampleDTO struct {
	Channel    uint32 `json:"channel"`
	Value      uint64 `json:"value"`
	Matched    bool   `json:"matched"`
	ReceivedAt string `json:"received_at"`
}

// Mount registers the routes on mux.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/ping", s.HandlePing)
	mux.HandleFunc("POST /api/v1/telemetry/send/request", s.HandleTelemetryRequest)
	mux.HandleFunc("POST /api/v1/telecommand/send/request", s.HandleTelecommandRequest)
	mux.HandleFunc("POST /api/v1/continuous/stop", s.HandleContinuousStop)
	mux.HandleFunc("POST /api/v1/continuous/rate", s.HandleContinuousRate)
	mux.HandleFunc("POST /api/v1/timeout", s.HandleTimeout)
	mux.HandleFunc("POST /api/v1/transmit/test", s.HandleTransmitTest)
	mux.HandleFunc("GET /api/v1/stats", s.HandleStats)
	mux.HandleFunc("GET /api/v1/telemetry/{channel}/samples", s.HandleSamples)
}

// Handler returns the routes wrapped with body limiting and error logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Mount(mux)
	return s.logRequest(limitBody(mux))
}

// HandlePing GET /api/v1/ping
func (s *Server) HandlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Pong string `json:"pong"`
	}{Pong: "success"})
}

// HandleTelemetryRequest POST /api/v1/telemetry/send/request
func (s *Server) HandleTelemetryRequest(w http.ResponseWriter, r *http.Request) {
	var req TelemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Channel == nil {
		http.Error(w, "tlm_channel required", http.StatusBadRequest)
		return
	}
	if err := s.Link.SendTelemetryRequest(*req.Channel, req.IsContinuous); err != nil {
		s.linkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "OK"})
}

// HandleTelecommandRequest POST /api/v1/telecommand/send/request
func (s *Server) HandleTelecommandRequest(w http.ResponseWriter, r *http.Request) {
	var req TelecommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Number == nil {
		http.Error(w, "telecommand_number required", http.StatusBadRequest)
		return
	}
	if req.DataType == "" {
		req.DataType = protocol.ARG_STRING
	}
	argument, err := protocol.EncodeArgument(req.DataType, req.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Link.SendTelecommandRequest(*req.Number, argument, req.IsContinuous); err != nil {
		s.linkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "OK"})
}

// HandleContinuousStop POST /api/v1/continuous/stop
func (s *Server) HandleContinuousStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Link.StopContinuous(); err != nil {
		s.linkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "OK"})
}

// HandleContinuousRate POST /api/v1/continuous/rate
func (s *Server) HandleContinuousRate(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.Link.AdjustRate(req.Rate); err != nil {
		s.linkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "OK"})
}

// HandleTimeout POST /api/v1/timeout changes the timeout of later requests
func (s *Server) HandleTimeout(w http.ResponseWriter, r *http.Request) {
	var req TimeoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.TimeoutMs > MAX_TIMEOUT_MS {
		http.Error(w, "timeout_ms exceeds one day", http.StatusBadRequest)
		return
	}
	if err := s.Link.SetTimeout(time.Duration(req.TimeoutMs) * time.Millisecond); err != nil {
		s.linkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "OK"})
}

// HandleTransmitTest POST /api/v1/transmit/test writes operator built bytes
// unmodified.
func (s *Server) HandleTransmitTest(w http.ResponseWriter, r *http.Request) {
	var req TransmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	data, err := protocol.ParseBytes(req.Data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) == 0 {
		http.Error(w, "data required", http.StatusBadRequest)
		return
	}
	if err := s.Link.TransmitRaw(data); err != nil {
		s.linkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "OK"})
}

// HandleStats GET /api/v1/stats
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Link.Stats())
}

// HandleSamples GET /api/v1/telemetry/{channel}/samples?limit=N
func (s *Server) HandleSamples(w http.ResponseWriter, r *http.Request) {
	if s.Samples == nil {
		http.Error(w, "journal disabled", http.StatusServiceUnavailable)
		return
	}
	channel, err := strconv.ParseUint(r.PathValue("channel"), 10, 32)
	if err != nil {
		http.Error(w, "invalid channel", http.StatusBadRequest)
		return
	}
	limit := DEFAULT_SAMPLE_LIMIT
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, MAX_SAMPLE_LIMIT)
	}

	samples, err := s.Samples.SamplesForChannel(uint32(channel), limit)
	if err != nil {
		s.logf("samples for channel %d: %v", channel, err)
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	out := make([]SampleDTO, 0, len(samples))
	for _, sample := range samples {
		out = append(out, SampleDTO{
			Channel:    sample.Channel,
			Value:      sample.Reading(),
			Matched:    sample.Matched,
			ReceivedAt: sample.ReceivedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// linkError maps engine errors to status codes.
func (s *Server) linkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, link.ErrRateZero), errors.Is(err, link.ErrRateRange), errors.Is(err, link.ErrInvalidTimeout):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, link.ErrNotRunning):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logf("link error: %v", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MAX_BODY_BYTES)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		if sw.code >= 400 {
			s.logf("api %s %s %d", r.Method, r.URL.Path, sw.code)
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
