package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/SuretyLabs/surety_layer/internal/app"
	"github.com/SuretyLabs/surety_layer/internal/config"
)

func newTestHandler(t *testing.T) (http.Handler, *app.Application) {
	t.Helper()
	application, err := app.New(config.Default().Protocol, app.Stores{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	return NewHandler(application, nil), application
}

func marshal(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, marshal(t, body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestFullProtocolFlow(t *testing.T) {
	h, _ := newTestHandler(t)

	// Genesis airline funds itself past the threshold.
	resp := do(t, h, http.MethodPost, "/airlines/deployer/funding",
		map[string]any{"amount": "10000000000", "from": "deployer"})
	if resp.Code != http.StatusOK {
		t.Fatalf("fund: %d %s", resp.Code, resp.Body.String())
	}
	var funding struct {
		Funded bool `json:"funded"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &funding); err != nil {
		t.Fatalf("unmarshal funding: %v", err)
	}
	if !funding.Funded {
		t.Fatal("10 tokens should meet the funding threshold")
	}

	// Register and list airlines.
	resp = do(t, h, http.MethodPost, "/airlines",
		map[string]any{"address": "acme-air", "from": "deployer"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("register airline: %d %s", resp.Code, resp.Body.String())
	}
	resp = do(t, h, http.MethodGet, "/airlines", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list airlines: %d", resp.Code)
	}
	var active struct {
		Airlines []string `json:"airlines"`
		Count    int      `json:"count"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &active); err != nil {
		t.Fatalf("unmarshal airlines: %v", err)
	}
	if active.Count != 2 {
		t.Fatalf("active airlines = %v", active.Airlines)
	}

	// Register a flight as the funded genesis airline.
	resp = do(t, h, http.MethodPost, "/flights",
		map[string]any{"airline": "deployer", "flight": "SL-1", "timestamp": 1_900_000_000, "from": "deployer"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("register flight: %d %s", resp.Code, resp.Body.String())
	}
	var created struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal flight: %v", err)
	}

	// Buy insurance.
	resp = do(t, h, http.MethodPost, fmt.Sprintf("/flights/%s/insurance", created.Key),
		map[string]any{"passenger": "alice", "premium": "1000000000", "from": "alice"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("buy insurance: %d %s", resp.Code, resp.Body.String())
	}

	// Request oracle resolution.
	resp = do(t, h, http.MethodPost, fmt.Sprintf("/flights/%s/status-requests", created.Key), nil)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("request status: %d %s", resp.Code, resp.Body.String())
	}

	// Flight is still unresolved.
	resp = do(t, h, http.MethodGet, "/flights/"+created.Key, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("flight status: %d", resp.Code)
	}
	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Status != "UNKNOWN" {
		t.Fatalf("status = %s, want UNKNOWN", status.Status)
	}

	// No credit before finalization.
	resp = do(t, h, http.MethodGet, "/passengers/alice/credit", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("credit: %d", resp.Code)
	}
}

func TestOverflowPremiumRejected(t *testing.T) {
	h, _ := newTestHandler(t)

	do(t, h, http.MethodPost, "/airlines/deployer/funding",
		map[string]any{"amount": "10000000000", "from": "deployer"})
	resp := do(t, h, http.MethodPost, "/flights",
		map[string]any{"airline": "deployer", "flight": "SL-1", "timestamp": 1, "from": "deployer"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("register flight: %d", resp.Code)
	}

	// 1e23 does not fit any ledger amount and must be rejected outright.
	resp = do(t, h, http.MethodPost, "/flights/deployer:SL-1:1/insurance",
		map[string]any{"passenger": "alice", "premium": "100000000000000000000000", "from": "alice"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("overflow premium: %d %s", resp.Code, resp.Body.String())
	}
}

func TestOperationalEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := do(t, h, http.MethodGet, "/operational", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get operational: %d", resp.Code)
	}

	resp = do(t, h, http.MethodPut, "/operational",
		map[string]any{"operational": false, "from": "mallory"})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("non-owner pause: %d", resp.Code)
	}

	resp = do(t, h, http.MethodPut, "/operational",
		map[string]any{"operational": false, "from": "deployer"})
	if resp.Code != http.StatusOK {
		t.Fatalf("owner pause: %d %s", resp.Code, resp.Body.String())
	}

	// Mutations answer 503 while paused.
	resp = do(t, h, http.MethodPost, "/airlines",
		map[string]any{"address": "acme-air", "from": "deployer"})
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("mutation while paused: %d", resp.Code)
	}

	resp = do(t, h, http.MethodPut, "/operational",
		map[string]any{"operational": true, "from": "deployer"})
	if resp.Code != http.StatusOK {
		t.Fatalf("owner resume: %d", resp.Code)
	}
}

func TestOracleEndpoints(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := do(t, h, http.MethodPost, "/oracles",
		map[string]any{"fee": "1", "from": "oracle-a"})
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("underpaid registration: %d %s", resp.Code, resp.Body.String())
	}

	resp = do(t, h, http.MethodPost, "/oracles",
		map[string]any{"fee": "1000000000", "from": "oracle-a"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("register oracle: %d %s", resp.Code, resp.Body.String())
	}
	var reg struct {
		Indexes []uint8 `json:"indexes"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &reg); err != nil {
		t.Fatalf("unmarshal registration: %v", err)
	}
	if len(reg.Indexes) != 3 {
		t.Fatalf("indexes = %v, want 3 entries", reg.Indexes)
	}

	resp = do(t, h, http.MethodGet, "/oracles/oracle-a/indexes", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("my indexes: %d", resp.Code)
	}
	resp = do(t, h, http.MethodGet, "/oracles/ghost/indexes", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown oracle indexes: %d", resp.Code)
	}

	// Responding without an open round conflicts.
	resp = do(t, h, http.MethodPost, "/oracles/responses",
		map[string]any{"index": 1, "airline": "a", "flight": "F", "timestamp": 1, "status": 20, "from": "oracle-a"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("response without round: %d %s", resp.Code, resp.Body.String())
	}
}

func TestAPIIndexAndHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := do(t, h, http.MethodGet, "/api", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("api index: %d", resp.Code)
	}
	resp = do(t, h, http.MethodGet, "/health", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("health: %d", resp.Code)
	}
	resp = do(t, h, http.MethodGet, "/metrics", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("metrics: %d", resp.Code)
	}
}

func TestActiveAirlinesAlias(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := do(t, h, http.MethodPost, "/airlines/deployer/funding",
		map[string]any{"amount": "10000000000", "from": "deployer"})
	if resp.Code != http.StatusOK {
		t.Fatalf("fund: %d %s", resp.Code, resp.Body.String())
	}

	canonical := do(t, h, http.MethodGet, "/airlines", nil)
	if canonical.Code != http.StatusOK {
		t.Fatalf("list airlines: %d", canonical.Code)
	}
	alias := do(t, h, http.MethodGet, "/activeAirlines", nil)
	if alias.Code != http.StatusOK {
		t.Fatalf("activeAirlines: %d", alias.Code)
	}
	if alias.Body.String() != canonical.Body.String() {
		t.Fatalf("alias body %s != canonical %s", alias.Body.String(), canonical.Body.String())
	}

	var active struct {
		Airlines []string `json:"airlines"`
		Count    int      `json:"count"`
	}
	if err := json.Unmarshal(alias.Body.Bytes(), &active); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if active.Count != 1 || len(active.Airlines) != 1 || active.Airlines[0] != "deployer" {
		t.Fatalf("active airlines = %+v", active)
	}
}

func TestUnknownFlightStatusRoute(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := do(t, h, http.MethodGet, "/flights/no:such:1", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown flight: %d", resp.Code)
	}
	resp = do(t, h, http.MethodPost, "/flights/no:such:1/status-requests", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("request for unknown flight: %d", resp.Code)
	}
}
