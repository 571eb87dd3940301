package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/markus-lassfolk/foresight/pkg/forecast"
	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/models"
	"github.com/markus-lassfolk/foresight/pkg/telem"
	"github.com/markus-lassfolk/foresight/pkg/uci"
)

func testAPIServer(t *testing.T, config *Config) (*Server, *telem.Store) {
	t.Helper()

	logger := logx.NewLogger("error", "test")
	store, err := telem.NewStore(24, 16, 168)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	engineConfig := &uci.Config{
		ForecastHorizon:       24,
		ContextLength:         168,
		SampleIntervalS:       3600,
		AROrder:               1,
		Differencing:          1,
		MAOrder:               1,
		SeasonalAROrder:       1,
		SeasonalDiff:          1,
		SeasonalPeriodDaily:   24,
		SeasonalPeriodAnnual:  365,
		AutoDetectSeasonality: true,
		MAEThreshold:          5.0,
		MAEWindowSize:         168,
	}
	primary := models.NewPrimary("", time.Second, engineConfig.ContextLength, logger)
	engine := forecast.NewEngine(engineConfig, primary, logger)

	if config == nil {
		config = &Config{Enabled: true}
	}

	return NewServer(engine, nil, store, config, logger), store
}

func forecastBody(t *testing.T, points int, value float64, steps int) *bytes.Buffer {
	t.Helper()

	start := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	history := make([]samplePayload, points)
	for i := range history {
		history[i] = samplePayload{
			Timestamp: start.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
			Value:     value,
		}
	}

	body, err := json.Marshal(forecastRequest{History: history, Steps: steps})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	return bytes.NewBuffer(body)
}

func TestServer_ForecastEndpoint(t *testing.T) {
	server, store := testAPIServer(t, nil)
	defer store.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/forecast", forecastBody(t, 48, 21.5, 6))
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result forecast.Result
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(result.Predictions) != 6 {
		t.Errorf("Predictions = %d, expected 6", len(result.Predictions))
	}
	if result.ModelType != "statistical" {
		t.Errorf("ModelType = %s, expected statistical", result.ModelType)
	}
}

func TestServer_ForecastInsufficientData(t *testing.T) {
	server, store := testAPIServer(t, nil)
	defer store.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/forecast", forecastBody(t, 5, 21.5, 6))
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Status = %d, expected 422", rec.Code)
	}
}

func TestServer_ForecastMethodNotAllowed(t *testing.T) {
	server, store := testAPIServer(t, nil)
	defer store.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/forecast", nil)
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, expected 405", rec.Code)
	}
}

func TestServer_ForecastBadTimestamp(t *testing.T) {
	server, store := testAPIServer(t, nil)
	defer store.Close()

	body := `{"history":[{"timestamp":"not-a-time","value":20}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/forecast", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, expected 400", rec.Code)
	}
}

func TestServer_SamplesIngest(t *testing.T) {
	server, store := testAPIServer(t, nil)
	defer store.Close()

	payload := samplesRequest{
		Series: "temperature",
		Samples: []samplePayload{
			{Timestamp: "2024-06-10T00:00:00Z", Value: 20.1},
			{Timestamp: "2024-06-10T01:00:00Z", Value: 20.4},
			{Timestamp: "2024-06-10T02:00:00", Value: 20.2}, // zone-less accepted
		},
	}
	body, _ := json.Marshal(payload)

	req := httptest.NewRequest(http.MethodPost, "/api/samples", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, body = %s", rec.Code, rec.Body.String())
	}

	stored, err := store.GetAllSamples("temperature")
	if err != nil {
		t.Fatalf("GetAllSamples failed: %v", err)
	}
	if len(stored) != 3 {
		t.Errorf("Stored samples = %d, expected 3", len(stored))
	}
}

func TestServer_SamplesMissingSeries(t *testing.T) {
	server, store := testAPIServer(t, nil)
	defer store.Close()

	body := `{"samples":[{"timestamp":"2024-06-10T00:00:00Z","value":20}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/samples", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, expected 400", rec.Code)
	}
}

func TestServer_TokenAuth(t *testing.T) {
	server, store := testAPIServer(t, &Config{Enabled: true, Token: "secret"})
	defer store.Close()

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"no_token", "", http.StatusUnauthorized},
		{"wrong_token", "Bearer nope", http.StatusUnauthorized},
		{"valid_token", "Bearer secret", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			server.routes().ServeHTTP(rec, req)

			if rec.Code != tc.code {
				t.Errorf("Status = %d, expected %d", rec.Code, tc.code)
			}
		})
	}
}

func TestServer_BcryptAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword failed: %v", err)
	}

	server, store := testAPIServer(t, &Config{Enabled: true, SecretHash: string(hash)})
	defer store.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, expected 200 for valid secret", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, expected 401 for invalid secret", rec.Code)
	}
}

func TestServer_APIKeyHeader(t *testing.T) {
	server, store := testAPIServer(t, &Config{Enabled: true, Token: "secret"})
	defer store.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Status = %d, expected 200 via X-API-Key", rec.Code)
	}
}

func TestServer_StatusEndpoint(t *testing.T) {
	server, store := testAPIServer(t, nil)
	defer store.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, expected 200", rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if response["status"] != "operational" {
		t.Errorf("status = %v, expected operational", response["status"])
	}
	if _, ok := response["engine"]; !ok {
		t.Error("Status response missing engine section")
	}
}

func TestServer_ModelsEndpoint(t *testing.T) {
	server, store := testAPIServer(t, nil)
	defer store.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	rec := httptest.NewRecorder()
	server.routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Status = %d, expected 200", rec.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if response["active_model_type"] != "statistical" {
		t.Errorf("active_model_type = %v, expected statistical with no primary", response["active_model_type"])
	}
}

func TestServer_RequestInstrumentation(t *testing.T) {
	server, store := testAPIServer(t, nil)
	defer store.Close()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()
		server.routes().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Status = %d, expected 200", rec.Code)
		}
	}

	metric := server.perf.GetMetric("api_health")
	if metric == nil {
		t.Fatal("No timing metric recorded for the health endpoint")
	}
	if metric.Count != 2 {
		t.Errorf("Metric count = %d, expected 2", metric.Count)
	}
	if metric.ErrorCount != 0 {
		t.Errorf("Metric error count = %d, expected 0", metric.ErrorCount)
	}

	if server.perf.GetMetric("api_forecast") != nil {
		t.Error("Forecast metric recorded without any forecast request")
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		input string
		valid bool
	}{
		{"2024-06-10T12:00:00Z", true},
		{"2024-06-10T12:00:00+02:00", true},
		{"2024-06-10T12:00:00", true},
		{"June 10th", false},
		{"", false},
	}

	for _, tc := range cases {
		_, err := parseTimestamp(tc.input)
		if tc.valid && err != nil {
			t.Errorf("parseTimestamp(%q) failed: %v", tc.input, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("parseTimestamp(%q) accepted invalid input", tc.input)
		}
	}
}
