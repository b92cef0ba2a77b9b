package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/n9te9/kinabalu/auth"
	"github.com/n9te9/kinabalu/federation/executor"
	"github.com/n9te9/kinabalu/federation/planner"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RequestIDHeader is complemented with a UUID when a client does not send one.
const RequestIDHeader = "X-Request-Id"

type GatewayService struct {
	Name        string   `yaml:"name"`
	Host        string   `yaml:"host"`
	SchemaFiles []string `yaml:"schema_files"`
}

type GatewayOption struct {
	Endpoint                    string               `yaml:"endpoint"`
	ServiceName                 string               `yaml:"service_name"`
	Port                        int                  `yaml:"port"`
	TimeoutDuration             string               `yaml:"timeout_duration" default:"5s"`
	EnableHangOverRequestHeader bool                 `yaml:"enable_hang_over_request_header" default:"true"`
	EnableComplementRequestId   bool                 `yaml:"enable_complement_request_id" default:"true"`
	Services                    []GatewayService     `yaml:"services"`
	Retry                       RetryOption          `yaml:"retry"`
	Auth                        AuthSetting          `yaml:"auth"`
	Opentelemetry               OpentelemetrySetting `yaml:"opentelemetry"`
}

// AuthSetting configures verification of bearer tokens at the edge.
type AuthSetting struct {
	PublicKeyFile string `yaml:"public_key_file"`
	Audience      string `yaml:"audience" default:"KinabaluAudience"`
	Issuer        string `yaml:"issuer" default:"KinabaluIssuer"`
	Leeway        string `yaml:"leeway" default:"0s"`
}

type OpentelemetrySetting struct {
	TracingSetting OpentelemetryTracingSetting `yaml:"tracing"`
}

type OpentelemetryTracingSetting struct {
	Enable bool `yaml:"enable" default:"false"`
	// Endpoint is the OTLP/HTTP collector, host:port. Empty uses the exporter default.
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Gateway is the single entry point of the graph. It verifies the caller once,
// plans each operation over the subgraphs and merges their answers.
type Gateway struct {
	graphQLEndpoint string
	serviceName     string
	verifier        *auth.Verifier
	httpClient      *http.Client
	services        []GatewayService
	retry           RetryOption
	engine          atomic.Pointer[executionEngine]

	enableComplementRequestId   bool
	enableHangOverRequestHeader bool
}

var _ http.Handler = (*Gateway)(nil)

// NewGateway loads the schema of every service and composes the super graph.
// verifier may be nil, in which case every request is anonymous.
func NewGateway(ctx context.Context, settings GatewayOption, verifier *auth.Verifier) (*Gateway, error) {
	if len(settings.Services) == 0 {
		return nil, errors.New("no services configured")
	}

	httpClient := &http.Client{
		Timeout: parseDuration(settings.TimeoutDuration, 5*time.Second),
	}
	if settings.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	g := &Gateway{
		graphQLEndpoint:             settings.Endpoint,
		serviceName:                 settings.ServiceName,
		verifier:                    verifier,
		httpClient:                  httpClient,
		services:                    settings.Services,
		retry:                       settings.Retry,
		enableComplementRequestId:   settings.EnableComplementRequestId,
		enableHangOverRequestHeader: settings.EnableHangOverRequestHeader,
	}
	if err := g.Reload(ctx); err != nil {
		return nil, err
	}

	return g, nil
}

// Reload reloads the subgraph schemas and swaps in a new engine. Requests in
// flight finish on the engine they started with. On error the current engine
// stays in place.
func (g *Gateway) Reload(ctx context.Context) error {
	sdls, err := loadSDLs(ctx, g.services, g.httpClient, g.retry)
	if err != nil {
		return err
	}

	engine, err := buildEngine(sdls, g.httpClient)
	if err != nil {
		return err
	}
	g.engine.Store(engine)

	logger().InfoContext(ctx, "super graph composed",
		"operation", "reload",
		"outcome", "success",
		"services", len(sdls),
	)
	return nil
}

// Endpoint returns the path the gateway is served on.
func (g *Gateway) Endpoint() string {
	if g.graphQLEndpoint == "" {
		return "/graphql"
	}
	return g.graphQLEndpoint
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req graphQLRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeErrors(w, http.StatusBadRequest, gqlerror.Errorf("invalid request body: %s", err))
		return
	}

	ctx := r.Context()

	// Verification happens once, before planning and fan-out.
	var claims *auth.Claims
	if g.verifier != nil {
		claims = g.verifier.VerifyRequest(ctx, r.Header.Get("Authorization"))
	}

	header, err := g.subgraphHeader(r.Header, claims)
	if err != nil {
		logger().ErrorContext(ctx, "build subgraph header failed", "operation", "forward_identity", "outcome", "failure", "error", err.Error())
		writeErrors(w, http.StatusInternalServerError, gqlerror.Errorf("internal server error"))
		return
	}
	w.Header().Set(RequestIDHeader, header.Get(RequestIDHeader))
	ctx = executor.SetRequestHeaderToContext(ctx, header)

	engine := g.engine.Load()
	schema := engine.superGraph.Schema

	doc, perr := parser.ParseQuery(&ast.Source{Input: req.Query})
	if perr != nil {
		writeErrors(w, http.StatusOK, withCode(gqlerror.WrapIfUnwrapped(perr), "GRAPHQL_PARSE_FAILED"))
		return
	}
	if errs := validator.ValidateWithRules(schema, doc, nil); len(errs) > 0 {
		for _, e := range errs {
			withCode(e, "GRAPHQL_VALIDATION_FAILED")
		}
		writeErrors(w, http.StatusOK, errs...)
		return
	}

	op, err := planner.SelectOperation(doc, req.OperationName)
	if err != nil {
		writeErrors(w, http.StatusOK, withCode(gqlerror.Errorf("%s", err), "GRAPHQL_VALIDATION_FAILED"))
		return
	}
	variables, err := validator.VariableValues(schema, op, req.Variables)
	if err != nil {
		writeErrors(w, http.StatusOK, withCode(gqlerror.WrapIfUnwrapped(err), "BAD_USER_INPUT"))
		return
	}

	plan, err := engine.planner.Plan(doc, op.Name, variables)
	if err != nil {
		logger().WarnContext(ctx, "planning failed",
			"operation", "plan",
			"outcome", "failure",
			"request_id", header.Get(RequestIDHeader),
			"error", err.Error(),
		)
		writeErrors(w, http.StatusOK, withCode(gqlerror.Errorf("%s", err), "QUERY_PLANNING_FAILED"))
		return
	}

	resp, err := engine.executor.Execute(ctx, plan, variables)
	if err != nil {
		logger().ErrorContext(ctx, "execution failed",
			"operation", "execute",
			"outcome", "failure",
			"request_id", header.Get(RequestIDHeader),
			"error", err.Error(),
		)
		writeErrors(w, http.StatusOK, gqlerror.Errorf("failed to execute operation"))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// hopHeaders are never handed over to subgraphs. Authorization stays at the edge;
// subgraphs learn the identity from the propagation header only.
var hopHeaders = map[string]bool{
	"Authorization":       true,
	"Connection":          true,
	"Content-Length":      true,
	"Content-Type":        true,
	"Accept-Encoding":     true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// subgraphHeader builds the headers every subgraph request of one inbound request
// carries. A client-supplied propagation header is always replaced.
func (g *Gateway) subgraphHeader(in http.Header, claims *auth.Claims) (http.Header, error) {
	out := http.Header{}
	if g.enableHangOverRequestHeader {
		for k, vs := range in {
			if hopHeaders[http.CanonicalHeaderKey(k)] {
				continue
			}
			out[k] = append([]string(nil), vs...)
		}
	}

	requestID := strings.TrimSpace(in.Get(RequestIDHeader))
	if requestID == "" && g.enableComplementRequestId {
		requestID = uuid.NewString()
	}
	if requestID != "" {
		out.Set(RequestIDHeader, requestID)
	}

	if err := auth.Forward(out, claims); err != nil {
		return nil, fmt.Errorf("forward identity: %w", err)
	}
	return out, nil
}

func withCode(err *gqlerror.Error, code string) *gqlerror.Error {
	if err.Extensions == nil {
		err.Extensions = map[string]any{}
	}
	err.Extensions["code"] = code
	return err
}

func writeErrors(w http.ResponseWriter, status int, errs ...*gqlerror.Error) {
	writeJSON(w, status, &executor.Response{Errors: errs})
}

func writeJSON(w http.ResponseWriter, status int, resp *executor.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger().Error("write response failed", "operation", "write_response", "outcome", "failure", "error", err.Error())
	}
}

func logger() *slog.Logger {
	return slog.Default().With("module", "gateway")
}
