package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/reflection/grpc_reflection_v1alpha"

	"github.com/markus-lassfolk/foresight/pkg/logx"
	"github.com/markus-lassfolk/foresight/pkg/telem"
)

// inferenceMethod is the fully-qualified method the sidecar exposes through
// server reflection. The request and response are plain JSON-mapped protos.
const inferenceMethod = "foresight.inference.v1.Inference/Predict"

// primaryConfidence is reported for remote predictions; the sidecar does not
// return a calibrated score.
const primaryConfidence = 0.8

// PrimaryPredictor is the heavyweight model tier. It is resolved to one of
// two variants at composition time: a remote inference client when an
// endpoint is configured, or the unavailable variant otherwise.
type PrimaryPredictor interface {
	Name() string
	Available() bool
	Forecast(ctx context.Context, samples []telem.Sample, steps int) (*Result, error)
}

// NewPrimary resolves the primary capability. An empty endpoint yields the
// unavailable variant; nothing later re-detects availability at runtime.
func NewPrimary(endpoint string, timeout time.Duration, contextLength int, logger *logx.Logger) PrimaryPredictor {
	if endpoint == "" {
		return &UnavailablePrimary{}
	}
	return &RemotePrimary{
		endpoint:      endpoint,
		timeout:       timeout,
		contextLength: contextLength,
		logger:        logger,
	}
}

// UnavailablePrimary is the no-endpoint variant. Every forecast reports
// ErrModelUnavailable so the caller falls through to the statistical tier.
type UnavailablePrimary struct{}

func (p *UnavailablePrimary) Name() string    { return "none" }
func (p *UnavailablePrimary) Available() bool { return false }

func (p *UnavailablePrimary) Forecast(ctx context.Context, samples []telem.Sample, steps int) (*Result, error) {
	return nil, fmt.Errorf("no primary predictor configured: %w", ErrModelUnavailable)
}

// RemotePrimary talks to an inference sidecar over gRPC server reflection,
// so no generated stubs are required. The first call probes the endpoint
// exactly once; a failed probe disables the capability for the process
// lifetime while individual inference failures only affect their own call.
type RemotePrimary struct {
	endpoint      string
	timeout       time.Duration
	contextLength int
	logger        *logx.Logger

	warmupOnce sync.Once
	mu         sync.RWMutex
	warmupErr  error
}

// Name returns the model tag carried in forecast results
func (p *RemotePrimary) Name() string { return "granite-ttm-r2" }

// Available reports whether the capability is usable. True until a warmup
// attempt fails; it never flips back.
func (p *RemotePrimary) Available() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.warmupErr == nil
}

// warmup probes the sidecar once. Concurrent first callers share the single
// attempt.
func (p *RemotePrimary) warmup(ctx context.Context) {
	p.warmupOnce.Do(func() {
		err := p.probe(ctx)

		p.mu.Lock()
		p.warmupErr = err
		p.mu.Unlock()

		if err != nil {
			p.logger.Error("Primary predictor warmup failed, capability disabled",
				"endpoint", p.endpoint,
				"error", err,
			)
			return
		}
		p.logger.LogStateChange("primary", "cold", "ready", "warmup probe succeeded",
			map[string]interface{}{"endpoint": p.endpoint})
	})
}

// probe dials the endpoint and lists its reflected services
func (p *RemotePrimary) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, p.endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to inference sidecar: %w", err)
	}
	defer conn.Close()

	reflectionClient := grpcreflect.NewClient(ctx, grpc_reflection_v1alpha.NewServerReflectionClient(conn))
	defer reflectionClient.Reset()

	services, err := reflectionClient.ListServices()
	if err != nil {
		return fmt.Errorf("reflection probe failed: %w", err)
	}
	if len(services) == 0 {
		return fmt.Errorf("sidecar exposes no reflected services")
	}

	return nil
}

type inferenceRequest struct {
	Series []inferencePoint `json:"series"`
	Steps  int              `json:"steps"`
}

type inferencePoint struct {
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
}

type inferenceResponse struct {
	Values []float64 `json:"values"`
	Model  string    `json:"model"`
}

// Forecast sends the most recent context window to the sidecar and returns
// its prediction. Any transport or output-contract violation is reported as
// an inference failure for this call only.
func (p *RemotePrimary) Forecast(ctx context.Context, samples []telem.Sample, steps int) (*Result, error) {
	p.warmup(ctx)

	p.mu.RLock()
	warmupErr := p.warmupErr
	p.mu.RUnlock()
	if warmupErr != nil {
		return nil, fmt.Errorf("primary predictor disabled: %w", ErrModelUnavailable)
	}

	if len(samples) < MinDataPoints {
		return nil, fmt.Errorf("need at least %d points for primary forecast, got %d: %w",
			MinDataPoints, len(samples), ErrInsufficientData)
	}
	if steps < 1 {
		steps = 1
	}

	if len(samples) > p.contextLength {
		samples = samples[len(samples)-p.contextLength:]
	}

	started := time.Now()
	raw, err := p.invoke(ctx, samples, steps)
	if err != nil {
		p.logger.Warn("Primary inference call failed",
			"endpoint", p.endpoint,
			"duration_ms", time.Since(started).Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("inference call: %w", ErrInferenceFailure)
	}

	values, model := sanitizeRemote(raw, steps)
	if values == nil {
		p.logger.Warn("Primary inference output rejected",
			"endpoint", p.endpoint,
			"returned", len(raw.Values),
			"steps", steps,
		)
		return nil, fmt.Errorf("inference output invalid: %w", ErrInferenceFailure)
	}
	if model == "" {
		model = p.Name()
	}

	p.logger.LogDataFlow("primary", "forecast", "predictions", len(values),
		map[string]interface{}{"duration_ms": time.Since(started).Milliseconds()})

	interval := telem.Interval(samples)
	lastTs := samples[len(samples)-1].Timestamp
	timestamps := make([]time.Time, steps)
	for i := range timestamps {
		timestamps[i] = lastTs.Add(interval * time.Duration(i+1))
	}

	return &Result{
		Timestamps: timestamps,
		Values:     values,
		Confidence: primaryConfidence,
		Model:      model,
	}, nil
}

// invoke performs one reflection-based RPC round trip
func (p *RemotePrimary) invoke(ctx context.Context, samples []telem.Sample, steps int) (*inferenceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, p.endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to inference sidecar: %w", err)
	}
	defer conn.Close()

	reflectionClient := grpcreflect.NewClient(ctx, grpc_reflection_v1alpha.NewServerReflectionClient(conn))
	descSource := grpcurl.DescriptorSourceFromServer(ctx, reflectionClient)

	request := inferenceRequest{
		Series: make([]inferencePoint, 0, len(samples)),
		Steps:  steps,
	}
	for _, s := range samples {
		request.Series = append(request.Series, inferencePoint{
			Timestamp: s.Timestamp.UTC().Format(time.RFC3339),
			Value:     s.Value,
		})
	}
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode inference request: %w", err)
	}

	requestReader := grpcurl.NewJSONRequestParser(bytes.NewReader(payload),
		grpcurl.AnyResolverFromDescriptorSource(descSource))

	var responseBuffer strings.Builder
	formatter := grpcurl.NewJSONFormatter(false, grpcurl.AnyResolverFromDescriptorSource(descSource))
	handler := &grpcurl.DefaultEventHandler{
		Out:            &responseBuffer,
		Formatter:      formatter,
		VerbosityLevel: 0,
	}

	if err := grpcurl.InvokeRPC(ctx, descSource, conn, inferenceMethod, nil, handler, requestReader.Next); err != nil {
		return nil, fmt.Errorf("gRPC call failed: %w", err)
	}

	var response inferenceResponse
	if err := json.Unmarshal([]byte(responseBuffer.String()), &response); err != nil {
		return nil, fmt.Errorf("failed to parse inference response: %w", err)
	}

	return &response, nil
}

// sanitizeRemote enforces the output contract: non-finite values are
// stripped, the remainder truncated to steps, and anything shorter than
// steps after that is rejected (nil return).
func sanitizeRemote(response *inferenceResponse, steps int) ([]float64, string) {
	finite := make([]float64, 0, len(response.Values))
	for _, v := range response.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		finite = append(finite, v)
	}

	if len(finite) < steps {
		return nil, ""
	}

	return finite[:steps], response.Model
}
