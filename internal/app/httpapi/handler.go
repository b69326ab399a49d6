// Package httpapi exposes the protocol engines over REST plus a websocket
// feed of oracle requests.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/SuretyLabs/surety_layer/internal/app"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/domain/protocol"
	"github.com/SuretyLabs/surety_layer/internal/app/metrics"
	"github.com/SuretyLabs/surety_layer/pkg/logger"
)

// handler bundles HTTP endpoints for the application engines.
type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewHandler returns the router exposing the REST API, the metrics endpoint
// and the oracle request stream.
func NewHandler(application *app.Application, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/api", h.apiIndex).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/operational", h.getOperational).Methods(http.MethodGet)
	r.HandleFunc("/operational", h.setOperational).Methods(http.MethodPut)

	r.HandleFunc("/airlines", h.registerAirline).Methods(http.MethodPost)
	r.HandleFunc("/airlines", h.activeAirlines).Methods(http.MethodGet)
	r.HandleFunc("/activeAirlines", h.activeAirlines).Methods(http.MethodGet)
	r.HandleFunc("/airlines/{address}", h.airlineInfo).Methods(http.MethodGet)
	r.HandleFunc("/airlines/{address}/funding", h.fundAirline).Methods(http.MethodPost)

	r.HandleFunc("/flights", h.registerFlight).Methods(http.MethodPost)
	r.HandleFunc("/flights/{key}", h.flightStatus).Methods(http.MethodGet)
	r.HandleFunc("/flights/{key}/status-requests", h.requestStatus).Methods(http.MethodPost)
	r.HandleFunc("/flights/{key}/insurance", h.buyInsurance).Methods(http.MethodPost)
	r.HandleFunc("/flights/{key}/insurance/{passenger}", h.policyInfo).Methods(http.MethodGet)

	r.HandleFunc("/oracles", h.registerOracle).Methods(http.MethodPost)
	r.HandleFunc("/oracles/{address}/indexes", h.oracleIndexes).Methods(http.MethodGet)
	r.HandleFunc("/oracles/responses", h.submitResponse).Methods(http.MethodPost)

	r.HandleFunc("/passengers/{address}/credit", h.passengerCredit).Methods(http.MethodGet)

	r.HandleFunc("/oracle/stream", h.oracleStream).Methods(http.MethodGet)

	return metrics.InstrumentHandler(r)
}

func (h *handler) apiIndex(w http.ResponseWriter, r *http.Request) {
	cfg := h.app.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"name": "surety_layer",
		"protocol": map[string]any{
			"owner":             cfg.Owner,
			"registration_fee":  cfg.RegistrationFee,
			"funding_threshold": cfg.FundingThreshold,
			"max_premium":       cfg.MaxPremium,
			"min_responses":     cfg.MinResponses,
		},
		"endpoints": []string{
			"GET  /api",
			"GET  /health",
			"GET  /metrics",
			"GET  /operational",
			"PUT  /operational",
			"POST /airlines",
			"GET  /airlines",
			"GET  /activeAirlines",
			"GET  /airlines/{address}",
			"POST /airlines/{address}/funding",
			"POST /flights",
			"GET  /flights/{key}",
			"POST /flights/{key}/status-requests",
			"POST /flights/{key}/insurance",
			"GET  /flights/{key}/insurance/{passenger}",
			"POST /oracles",
			"GET  /oracles/{address}/indexes",
			"POST /oracles/responses",
			"GET  /passengers/{address}/credit",
			"GET  /oracle/stream",
		},
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	operational, err := h.app.Operations.IsOperational(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "operational": operational})
}

func (h *handler) getOperational(w http.ResponseWriter, r *http.Request) {
	operational, err := h.app.Operations.IsOperational(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"operational": operational})
}

func (h *handler) setOperational(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Operational bool   `json:"operational"`
		From        string `json:"from"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Operations.SetOperational(r.Context(), payload.Operational, payload.From); err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"operational": payload.Operational})
}

func (h *handler) registerAirline(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address string `json:"address"`
		From    string `json:"from"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Address == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("address is required"))
		return
	}

	registered, votes, err := h.app.Governance.RegisterAirline(r.Context(), payload.Address, payload.From)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	status := http.StatusCreated
	if !registered {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{
		"address":    payload.Address,
		"registered": registered,
		"votes":      votes,
	})
}

func (h *handler) activeAirlines(w http.ResponseWriter, r *http.Request) {
	airlines, err := h.app.Governance.ActiveAirlines(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"airlines": airlines, "count": len(airlines)})
}

func (h *handler) airlineInfo(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	registered, err := h.app.Governance.IsAirline(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !registered {
		writeError(w, http.StatusNotFound, fmt.Errorf("airline %s: %w", address, protocol.ErrNotRegistered))
		return
	}
	funded, _ := h.app.Governance.IsFunded(r.Context(), address)
	funding, _ := h.app.Governance.FetchFunding(r.Context(), address)
	votes, _ := h.app.Governance.VoteTally(r.Context(), address)
	writeJSON(w, http.StatusOK, map[string]any{
		"address":    address,
		"registered": registered,
		"funded":     funded,
		"funding":    funding,
		"votes":      votes,
	})
}

func (h *handler) fundAirline(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	var payload struct {
		Amount json.Number `json:"amount"`
		From   string      `json:"from"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(payload.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	a, err := h.app.Governance.Fund(r.Context(), address, amount, payload.From)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": a.Address,
		"funding": a.FundedAmount,
		"funded":  a.Funded(h.app.Config().FundingThreshold),
	})
}

func (h *handler) registerFlight(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Airline   string `json:"airline"`
		Flight    string `json:"flight"`
		Timestamp int64  `json:"timestamp"`
		From      string `json:"from"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Airline == "" || payload.Flight == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("airline and flight are required"))
		return
	}

	f, err := h.app.Governance.RegisterFlight(r.Context(), payload.Airline, payload.Flight, payload.Timestamp, payload.From)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, flightResponse(f))
}

func (h *handler) flightStatus(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	status, err := h.app.Oracles.FlightStatus(r.Context(), key)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flight_key":  key,
		"status_code": uint8(status),
		"status":      status.String(),
	})
}

func (h *handler) requestStatus(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	airline, code, timestamp, err := flight.ParseKey(key)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ev, err := h.app.Oracles.RequestFlightStatus(r.Context(), airline, code, timestamp)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}

func (h *handler) buyInsurance(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var payload struct {
		Passenger string      `json:"passenger"`
		Premium   json.Number `json:"premium"`
		From      string      `json:"from"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	premium, err := parseAmount(payload.Premium)
	if err != nil {
		// Values outside uint64 range (or non-integers) can never be valid
		// premiums.
		writeError(w, http.StatusBadRequest, fmt.Errorf("premium %s: %w", payload.Premium, protocol.ErrInvalidPremium))
		return
	}

	policy, err := h.app.Insurance.Buy(r.Context(), key, payload.Passenger, premium, payload.From)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"flight_key": policy.FlightKey,
		"passenger":  policy.Passenger,
		"premium":    policy.Premium,
	})
}

func (h *handler) policyInfo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	policy, err := h.app.Insurance.PolicyInfo(r.Context(), vars["key"], vars["passenger"])
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flight_key": policy.FlightKey,
		"passenger":  policy.Passenger,
		"premium":    policy.Premium,
		"settled":    policy.Settled,
	})
}

func (h *handler) registerOracle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Fee  json.Number `json:"fee"`
		From string      `json:"from"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fee, err := parseAmount(payload.Fee)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := h.app.Oracles.RegisterOracle(r.Context(), payload.From, fee)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"address": o.Address,
		"indexes": o.Indexes,
	})
}

func (h *handler) oracleIndexes(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	indexes, err := h.app.Oracles.MyIndexes(r.Context(), address)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address, "indexes": indexes})
}

func (h *handler) submitResponse(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Index     uint8  `json:"index"`
		Airline   string `json:"airline"`
		Flight    string `json:"flight"`
		Timestamp int64  `json:"timestamp"`
		Status    uint8  `json:"status"`
		From      string `json:"from"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	finalized, round, err := h.app.Oracles.SubmitOracleResponse(
		r.Context(),
		payload.Index,
		payload.Airline,
		payload.Flight,
		payload.Timestamp,
		flight.StatusCode(payload.Status),
		payload.From,
	)
	if err != nil {
		writeProtocolError(w, err)
		return
	}
	resp := map[string]any{
		"flight_key": round.FlightKey,
		"finalized":  finalized,
		"responses":  len(round.Responses),
	}
	if finalized {
		resp["status_code"] = uint8(round.FinalStatus)
		resp["status"] = round.FinalStatus.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) passengerCredit(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	credit, err := h.app.Insurance.PassengerCredit(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passenger": address, "credit": credit})
}

func flightResponse(f flight.Flight) map[string]any {
	return map[string]any{
		"key":         f.Key,
		"airline":     f.Airline,
		"flight":      f.Code,
		"timestamp":   f.Timestamp,
		"status_code": uint8(f.Status),
		"status":      f.Status.String(),
	}
}

// writeProtocolError maps the protocol sentinel errors onto HTTP status codes.
func writeProtocolError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, protocol.ErrContractPaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, protocol.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, protocol.ErrInsufficientFee):
		status = http.StatusPaymentRequired
	case errors.Is(err, protocol.ErrNotRegistered),
		errors.Is(err, protocol.ErrUnknownFlight):
		status = http.StatusNotFound
	case errors.Is(err, protocol.ErrAlreadyRegistered),
		errors.Is(err, protocol.ErrAlreadyInsured),
		errors.Is(err, protocol.ErrIndexMismatch),
		errors.Is(err, protocol.ErrRoundNotOpen),
		errors.Is(err, protocol.ErrRoundClosed),
		errors.Is(err, protocol.ErrDuplicateResponse):
		status = http.StatusConflict
	case errors.Is(err, protocol.ErrInvalidPremium):
		status = http.StatusBadRequest
	}
	writeError(w, status, err)
}

func parseAmount(n json.Number) (uint64, error) {
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %s is not a valid unsigned integer", n)
	}
	return v, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
