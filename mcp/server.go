package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
)

// Tool names
const (
	ToolQuoteFee          = "quote_fee"
	ToolTransactionStatus = "transaction_status"
	ToolSafetyStats       = "safety_stats"
	ToolRelayerHealth     = "relayer_health"
)

// Service is the relayer surface exposed as tools
type Service interface {
	Quote(ctx context.Context, req relayer.QuoteRequest) (*relayer.Quote, error)
	Status(ctx context.Context, hash string) (relayer.ChainStatus, error)
	Health(ctx context.Context) (*relayer.Health, error)
	SafetyStats(ctx context.Context, address string) (relayer.SafetyStats, error)
}

// Option configures the tool server
type Option func(*config)

type config struct {
	name    string
	version string
	logger  *zap.Logger
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithImplementation sets the name and version reported to clients
func WithImplementation(name, version string) Option {
	return func(c *config) {
		c.name = name
		c.version = version
	}
}

type quoteArgs struct {
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Amount      string `json:"amount"`
	Coin        string `json:"coin"`
}

type statusArgs struct {
	Hash string `json:"hash"`
}

type safetyArgs struct {
	Address string `json:"address"`
}

// NewServer creates an MCP server with the relayer tools registered
func NewServer(service Service, opts ...Option) *mcpsdk.Server {
	cfg := config{name: "solana-gas-relayer", version: "1.0.0", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    cfg.name,
		Version: cfg.version,
	}, nil)
	t := &tools{service: service, logger: cfg.logger}

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolQuoteFee,
		Description: "Quote the sponsorship fee for an SPL token transfer. Amounts are integer strings in base units.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["fromAddress", "toAddress", "amount", "coin"],
			"properties": {
				"fromAddress": {"type": "string", "description": "sender wallet address"},
				"toAddress": {"type": "string", "description": "recipient wallet address"},
				"amount": {"type": "string", "description": "transfer amount in base units"},
				"coin": {"type": "string", "description": "coin symbol or mint address"}
			}
		}`),
	}, t.quoteFee)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolTransactionStatus,
		Description: "Look up the chain status of a sponsored transaction",
		InputSchema: json.RawMessage(`{"type": "object", "required": ["hash"], "properties": {"hash": {"type": "string"}}}`),
	}, t.transactionStatus)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolSafetyStats,
		Description: "Show safety caps and today's usage, optionally for one address",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {"address": {"type": "string"}}}`),
	}, t.safetyStats)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolRelayerHealth,
		Description: "Report the sponsor balance and whether new quotes can be issued",
		InputSchema: json.RawMessage(`{"type": "object"}`),
	}, t.relayerHealth)

	return server
}

// SSEHandler serves server over server-sent events
func SSEHandler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewSSEHandler(func(*http.Request) *mcpsdk.Server {
		return server
	}, &mcpsdk.SSEOptions{})
}

type tools struct {
	service Service
	logger  *zap.Logger
}

func (t *tools) quoteFee(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args quoteArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err), nil
	}
	amount, err := strconv.ParseUint(args.Amount, 10, 64)
	if err != nil {
		return errorResult(relayer.ValidationError("amount must be an integer number of base units")), nil
	}

	quote, err := t.service.Quote(ctx, relayer.QuoteRequest{
		FromAddress: args.FromAddress,
		ToAddress:   args.ToAddress,
		Amount:      amount,
		Coin:        args.Coin,
	})
	if err != nil {
		t.logger.Info("quote_fee declined", zap.String("code", relayer.CodeOf(err)), zap.Error(err))
		return errorResult(err), nil
	}
	return jsonResult(quote)
}

func (t *tools) transactionStatus(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args statusArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err), nil
	}
	status, err := t.service.Status(ctx, args.Hash)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(status)
}

func (t *tools) safetyStats(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args safetyArgs
	if err := decodeArgs(req, &args); err != nil {
		return errorResult(err), nil
	}
	stats, err := t.service.SafetyStats(ctx, args.Address)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(stats)
}

func (t *tools) relayerHealth(ctx context.Context, _ *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	health, err := t.service.Health(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(health)
}

func decodeArgs(req *mcpsdk.CallToolRequest, v interface{}) error {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return relayer.ValidationError("invalid arguments: %v", err)
	}
	return nil
}

// jsonResult returns v as both text and structured content
func jsonResult(v interface{}) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	var structured map[string]interface{}
	if err := json.Unmarshal(data, &structured); err != nil {
		return nil, fmt.Errorf("failed to unmarshal structured content: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
		StructuredContent: structured,
	}, nil
}

// errorResult reports err to the model as a tool error carrying the relay error JSON
func errorResult(err error) *mcpsdk.CallToolResult {
	var relayErr *relayer.RelayError
	if !errors.As(err, &relayErr) {
		relayErr = relayer.NewRelayError(relayer.ErrCodeInternal, "internal error", nil)
	}
	data, _ := json.Marshal(map[string]interface{}{"error": relayErr})
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}
}
