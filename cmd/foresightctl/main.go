package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/markus-lassfolk/foresight/pkg/forecast"
	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/scheduler"
	"github.com/markus-lassfolk/foresight/pkg/uci"
)

// Command line flags
var (
	// Daemon Query Commands
	showStatus = flag.Bool("status", false, "Show daemon status")
	showModels = flag.Bool("models", false, "Show model chain and fallback tracker state")
	showHealth = flag.Bool("health", false, "Show daemon health")

	// Forecast Commands
	runForecast = flag.Bool("forecast", false, "Request a forecast from the daemon")
	pushSamples = flag.Bool("push", false, "Push samples from the input file into the daemon store")
	inputFile   = flag.String("input", "", "JSON input file ('-' reads stdin)")
	steps       = flag.Int("steps", 0, "Forecast steps, 0 uses the daemon default")
	noAggregate = flag.Bool("no-aggregate", false, "Disable hourly aggregation of the submitted history")
	series      = flag.String("series", "temperature", "Series name for pushed samples")

	// Connection Options
	apiHost  = flag.String("host", "localhost", "Daemon API host")
	apiPort  = flag.Int("port", 8043, "Daemon API port")
	apiToken = flag.String("token", "", "API bearer token (or path to token file)")
	timeout  = flag.Duration("timeout", 30*time.Second, "Operation timeout")

	// Output Format Options
	outputFormat = flag.String("format", "standard", "Output format: standard, json")
	version      = flag.Bool("version", false, "Show version information")
)

const (
	AppName    = "foresightctl"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client, err := newClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *showStatus {
		if err := handleStatus(ctx, client); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *showModels {
		if err := handleModels(ctx, client); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *showHealth {
		if err := handleHealth(ctx, client); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *runForecast {
		if err := handleForecast(ctx, client); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *pushSamples {
		if err := handlePush(ctx, client); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// If no specific command, show usage
	showUsage()
}

// apiClient talks to the local foresightd HTTP API
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// newClient builds the API client, picking up connection settings from the
// device config when the flags are not given
func newClient() (*apiClient, error) {
	provided := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { provided[f.Name] = true })

	native := uci.NewNativeUCI("/etc/config", logx.NewLogger("error", AppName))

	port := *apiPort
	if !provided["port"] {
		if v, err := native.Get(context.Background(), "foresight", "main", "api_port"); err == nil {
			if p, perr := strconv.Atoi(v); perr == nil && p > 0 {
				port = p
			}
		}
	}

	token := ""
	if *apiToken != "" {
		loaded, err := loadToken(*apiToken)
		if err != nil {
			return nil, fmt.Errorf("failed to load API token: %w", err)
		}
		token = loaded
	} else if v, err := native.Get(context.Background(), "foresight", "main", "api_token"); err == nil {
		token = v
	}

	return &apiClient{
		baseURL: fmt.Sprintf("http://%s:%d", *apiHost, port),
		token:   token,
		http:    &http.Client{Timeout: *timeout},
	}, nil
}

func (c *apiClient) get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// statusResponse mirrors the daemon's /api/status payload
type statusResponse struct {
	Status    string                `json:"status"`
	UptimeS   int                   `json:"uptime_s"`
	Timestamp string                `json:"timestamp"`
	Engine    forecast.EngineStatus `json:"engine"`
	Scheduler *scheduler.Status     `json:"scheduler,omitempty"`
	Store     *storeStatus          `json:"store,omitempty"`
}

type storeStatus struct {
	Series   []string `json:"series"`
	MemoryMB int      `json:"memory_mb"`
}

// modelsResponse mirrors the daemon's /api/models payload
type modelsResponse struct {
	ActiveModelType string                 `json:"active_model_type"`
	Primary         primaryStatus          `json:"primary"`
	FallbackChain   []string               `json:"fallback_chain"`
	Tracker         forecast.TrackerStatus `json:"tracker"`
}

type primaryStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// handleStatus shows the daemon status
func handleStatus(ctx context.Context, client *apiClient) error {
	var status statusResponse
	if err := client.get(ctx, "/api/status", &status); err != nil {
		return err
	}

	if *outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(status)
	}

	fmt.Println("Foresight Daemon Status:")
	fmt.Println("========================")
	fmt.Printf("  Status: %s\n", status.Status)
	fmt.Printf("  Uptime: %s\n", (time.Duration(status.UptimeS) * time.Second).String())
	fmt.Printf("  Primary Model: %s (available: %t)\n", status.Engine.PrimaryName, status.Engine.PrimaryAvailable)
	fmt.Printf("  Tracker State: %s\n", status.Engine.Tracker.State)
	fmt.Printf("  Current MAE: %.2f (threshold %.2f)\n", status.Engine.Tracker.CurrentMAE, status.Engine.Tracker.Threshold)
	fmt.Printf("  Forecast Horizon: %dh\n", status.Engine.ForecastHorizon)

	if status.Scheduler != nil {
		fmt.Println("\nScheduler:")
		fmt.Printf("  Running: %t\n", status.Scheduler.Running)
		fmt.Printf("  Runs: %d\n", status.Scheduler.RunCount)
		if !status.Scheduler.LastRun.IsZero() {
			fmt.Printf("  Last Run: %s\n", status.Scheduler.LastRun.Format(time.RFC3339))
		}
		if !status.Scheduler.NextRun.IsZero() {
			fmt.Printf("  Next Run: %s\n", status.Scheduler.NextRun.Format(time.RFC3339))
		}
		if status.Scheduler.LastError != "" {
			fmt.Printf("  Last Error: %s\n", status.Scheduler.LastError)
		}
	}

	if status.Store != nil {
		fmt.Println("\nTelemetry Store:")
		fmt.Printf("  Series: %s\n", strings.Join(status.Store.Series, ", "))
		fmt.Printf("  Memory: %d MB\n", status.Store.MemoryMB)
	}

	return nil
}

// handleModels shows the model chain and tracker state
func handleModels(ctx context.Context, client *apiClient) error {
	var models modelsResponse
	if err := client.get(ctx, "/api/models", &models); err != nil {
		return err
	}

	if *outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(models)
	}

	fmt.Println("Model Chain Status:")
	fmt.Println("===================")
	fmt.Printf("  Active Model Type: %s\n", models.ActiveModelType)
	fmt.Printf("  Primary: %s (available: %t)\n", models.Primary.Name, models.Primary.Available)
	fmt.Printf("  Fallback Chain: %s\n", strings.Join(models.FallbackChain, " -> "))
	fmt.Println("\nError Tracker:")
	fmt.Printf("  State: %s\n", models.Tracker.State)
	fmt.Printf("  Current MAE: %.2f\n", models.Tracker.CurrentMAE)
	fmt.Printf("  Threshold: %.2f\n", models.Tracker.Threshold)
	fmt.Printf("  Window: %d/%d samples\n", models.Tracker.Samples, models.Tracker.WindowSize)
	fmt.Printf("  Transitions: %d\n", models.Tracker.Transitions)

	return nil
}

// handleHealth shows the daemon health endpoint
func handleHealth(ctx context.Context, client *apiClient) error {
	var health map[string]interface{}
	if err := client.get(ctx, "/api/health", &health); err != nil {
		return err
	}

	if *outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(health)
	}

	fmt.Println("Daemon Health:")
	fmt.Println("==============")
	for key, value := range health {
		fmt.Printf("  %s: %v\n", key, value)
	}

	return nil
}

// handleForecast submits a history file and prints the forecast
func handleForecast(ctx context.Context, client *apiClient) error {
	if *inputFile == "" {
		return fmt.Errorf("forecast requires -input with a JSON request file")
	}

	data, err := readInput(*inputFile)
	if err != nil {
		return err
	}

	// Decode into a generic request so command-line overrides can be applied
	var request map[string]interface{}
	if err := json.Unmarshal(data, &request); err != nil {
		return fmt.Errorf("invalid forecast request file: %w", err)
	}
	if *steps > 0 {
		request["steps"] = *steps
	}
	if *noAggregate {
		request["aggregate"] = false
	}

	var result forecast.Result
	if err := client.post(ctx, "/api/forecast", request, &result); err != nil {
		return err
	}

	if *outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	fmt.Println("Forecast Result:")
	fmt.Println("================")
	fmt.Printf("  Model: %s (%s)\n", result.Model, result.ModelType)
	fmt.Printf("  Generated: %s\n", result.ForecastTimestamp.Format(time.RFC3339))
	fmt.Printf("  Horizon: %dh\n", result.ForecastHorizon)
	fmt.Printf("  Context: %d points (from %d raw)\n", result.ContextSize, result.OriginalDataPoints)
	fmt.Printf("  Aggregated: %t\n", result.Aggregated)
	fmt.Printf("  Annual Seasonality: %t\n", result.AnnualSeasonality)
	fmt.Printf("  Humidity Correction: %t\n", result.HumidityCorrection)
	fmt.Printf("  Confidence: %.2f\n", result.Confidence)
	fmt.Println()
	for _, p := range result.Predictions {
		fmt.Printf("  +%3dh  %s  %8.2f\n", p.HoursAhead, p.Timestamp.Format("2006-01-02 15:04"), p.Value)
	}

	return nil
}

// handlePush ingests samples from the input file into the daemon store
func handlePush(ctx context.Context, client *apiClient) error {
	if *inputFile == "" {
		return fmt.Errorf("push requires -input with a JSON sample file")
	}

	data, err := readInput(*inputFile)
	if err != nil {
		return err
	}

	// Accept either a bare sample array or a full {series, samples} object
	payload := map[string]interface{}{"series": *series}
	var samples []map[string]interface{}
	if err := json.Unmarshal(data, &samples); err == nil {
		payload["samples"] = samples
	} else if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("invalid sample file: %w", err)
	}

	var response struct {
		Success bool `json:"success"`
		Stored  int  `json:"stored"`
	}
	if err := client.post(ctx, "/api/samples", payload, &response); err != nil {
		return err
	}

	if *outputFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(response)
	}

	fmt.Printf("Stored %d samples\n", response.Stored)
	return nil
}

// readInput reads the input file, or stdin when the path is "-"
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return data, nil
}

// loadToken loads the API token, reading it from a file when given a path
func loadToken(tokenOrPath string) (string, error) {
	// If it looks like a file path, try to read it
	if strings.Contains(tokenOrPath, "/") || strings.Contains(tokenOrPath, "\\") {
		content, err := os.ReadFile(tokenOrPath)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return strings.TrimSpace(string(content)), nil
	}

	// Otherwise, assume it's the token itself
	return tokenOrPath, nil
}

func showUsage() {
	fmt.Printf("%s - foresight Control Tool\n", AppName)
	fmt.Printf("Version: %s\n\n", AppVersion)

	fmt.Println("Daemon Query Commands:")
	fmt.Println("  -status          Show daemon status")
	fmt.Println("  -models          Show model chain and fallback tracker state")
	fmt.Println("  -health          Show daemon health")
	fmt.Println()

	fmt.Println("Forecast Commands:")
	fmt.Println("  -forecast        Request a forecast (requires -input)")
	fmt.Println("  -push            Push samples into the daemon store (requires -input)")
	fmt.Println("  -input string    JSON input file ('-' reads stdin)")
	fmt.Println("  -steps int       Forecast steps, 0 uses the daemon default")
	fmt.Println("  -no-aggregate    Disable hourly aggregation of the submitted history")
	fmt.Println("  -series string   Series name for pushed samples (default \"temperature\")")
	fmt.Println()

	fmt.Println("Connection Options:")
	fmt.Println("  -host string     Daemon API host (default \"localhost\")")
	fmt.Println("  -port int        Daemon API port (default 8043)")
	fmt.Println("  -token string    API bearer token (or path to token file)")
	fmt.Println("  -timeout         Operation timeout (default 30s)")
	fmt.Println()

	fmt.Println("Output Format Options:")
	fmt.Println("  -format string   Output format: standard, json (default \"standard\")")
	fmt.Println()

	fmt.Println("Examples:")
	fmt.Printf("  %s -status\n", AppName)
	fmt.Printf("  %s -models -format json\n", AppName)
	fmt.Printf("  %s -forecast -input history.json -steps 12\n", AppName)
	fmt.Printf("  %s -push -input samples.json -series temperature\n", AppName)
}
