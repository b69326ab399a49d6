// Package main runs a standalone oracle agent against a remote surety layer
// server. It registers itself, follows the oracle request stream over
// websocket and submits responses through the REST API.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/SuretyLabs/surety_layer/internal/app/domain/flight"
	"github.com/SuretyLabs/surety_layer/internal/app/events"
	"github.com/SuretyLabs/surety_layer/pkg/logger"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "Surety layer server base URL")
	address := flag.String("address", "", "Oracle identity (defaults to a random one)")
	fee := flag.Uint64("fee", 1_000_000_000, "Registration fee in raw units")
	flag.Parse()

	_ = godotenv.Load()
	if v := os.Getenv("SURETY_SERVER_URL"); v != "" && *server == "http://localhost:8080" {
		*server = v
	}

	log := logger.NewDefault("oracleagent")

	if *address == "" {
		*address = fmt.Sprintf("oracle-%06x", rand.New(rand.NewSource(time.Now().UnixNano())).Intn(1<<24))
	}
	log = log.WithField("oracle", *address)

	client := &http.Client{Timeout: 10 * time.Second}
	decider := newScheduleDecider()

	indexes, err := register(client, *server, *address, *fee)
	if err != nil {
		log.WithError(err).Fatal("register oracle")
	}
	log.WithField("indexes", fmt.Sprintf("%v", indexes)).Info("registered")

	wsURL, err := streamURL(*server)
	if err != nil {
		log.WithError(err).Fatal("build stream url")
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.WithError(err).Fatal("connect oracle stream")
	}
	defer conn.Close()
	log.WithField("url", wsURL).Info("following oracle request stream")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		conn.Close()
	}()

	seen := make(map[string]struct{})
	for {
		var req events.OracleRequest
		if err := conn.ReadJSON(&req); err != nil {
			log.WithError(err).Info("stream closed")
			return
		}
		if _, ok := seen[req.FlightKey]; ok {
			continue
		}
		seen[req.FlightKey] = struct{}{}

		match := false
		for _, idx := range indexes {
			if idx == req.Index {
				match = true
				break
			}
		}
		if !match {
			continue
		}

		status := decider(req)
		if err := submit(client, *server, *address, req, status); err != nil {
			log.WithError(err).WithField("flight", req.FlightKey).Warn("response rejected")
			continue
		}
		log.WithField("flight", req.FlightKey).
			WithField("status", status.String()).
			Info("response submitted")
	}
}

func register(client *http.Client, server, address string, fee uint64) ([]uint8, error) {
	payload, _ := json.Marshal(map[string]any{"fee": fee, "from": address})
	resp, err := client.Post(server+"/oracles", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Indexes []uint8 `json:"indexes"`
		Error   string  `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("register failed (%d): %s", resp.StatusCode, body.Error)
	}
	return body.Indexes, nil
}

func submit(client *http.Client, server, address string, req events.OracleRequest, status flight.StatusCode) error {
	payload, _ := json.Marshal(map[string]any{
		"index":     req.Index,
		"airline":   req.Airline,
		"flight":    req.Flight,
		"timestamp": req.Timestamp,
		"status":    uint8(status),
		"from":      address,
	})
	resp, err := client.Post(server+"/oracles/responses", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("submit failed (%d): %s", resp.StatusCode, body.Error)
	}
	return nil
}

func streamURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/oracle/stream"
	return u.String(), nil
}

func newScheduleDecider() func(events.OracleRequest) flight.StatusCode {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	late := []flight.StatusCode{
		flight.StatusLateAirline,
		flight.StatusLateWeather,
		flight.StatusLateTechnical,
		flight.StatusLateOther,
	}
	return func(req events.OracleRequest) flight.StatusCode {
		if time.Unix(req.Timestamp, 0).After(time.Now()) {
			return flight.StatusOnTime
		}
		return late[rng.Intn(len(late))]
	}
}
