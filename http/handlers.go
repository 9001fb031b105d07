package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	relayer "github.com/x402-foundation/x402/relayer"
	"github.com/x402-foundation/x402/relayer/signature"
)

// QuoteRequest is the body of POST /quote. Amounts are decimal strings of base units.
type QuoteRequest struct {
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Amount      string `json:"amount"`
	Coin        string `json:"coin"`
}

// QuoteResponse is the body returned by POST /quote
type QuoteResponse struct {
	QuoteID             string               `json:"quoteId"`
	Fee                 string               `json:"fee"`
	FeeBreakdown        relayer.FeeBreakdown `json:"feeBreakdown"`
	GasUnits            uint64               `json:"gasUnits"`
	GasPricePerUnit     uint64               `json:"gasPricePerUnit"`
	Price               decimal.Decimal      `json:"price"`
	TransactionTemplate string               `json:"transactionTemplate"`
	RecentBlockhash     string               `json:"recentBlockhash"`
	ExpiresAt           time.Time            `json:"expiresAt"`
}

// SignatureBody carries the sender's wallet signature. Both fields accept hex, base58 or base64.
type SignatureBody struct {
	Bytes     string `json:"bytes"`
	PublicKey string `json:"publicKey"`
}

// SubmitRequest is the body of POST /submit. Fee is informational; the relayer charges the quoted fee.
type SubmitRequest struct {
	QuoteID     string        `json:"quoteId"`
	FromAddress string        `json:"fromAddress"`
	ToAddress   string        `json:"toAddress"`
	Amount      string        `json:"amount"`
	Coin        string        `json:"coin"`
	Fee         *string       `json:"fee,omitempty"`
	Signature   SignatureBody `json:"signature"`
}

// SubmitResponse is the body returned by POST /submit
type SubmitResponse struct {
	TransactionID string           `json:"transactionId"`
	Hash          string           `json:"hash"`
	Status        relayer.TxStatus `json:"status"`
	Fee           string           `json:"fee"`
	Tracked       bool             `json:"tracked"`
}

func (s *Server) handleQuote(c *gin.Context) {
	body, err := rawBody(c)
	if err != nil {
		writeError(c, relayer.ValidationError("failed to read request body"))
		return
	}
	if err := validateBody(quoteSchema, body); err != nil {
		writeError(c, err)
		return
	}
	var req QuoteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(c, relayer.ValidationError("invalid request body"))
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	quote, err := s.service.Quote(ctx, relayer.QuoteRequest{
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
		Amount:      amount,
		Coin:        req.Coin,
	})
	if err != nil {
		s.logFailure("quote", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, QuoteResponse{
		QuoteID:             quote.QuoteID,
		Fee:                 strconv.FormatUint(quote.Fee.FinalFee, 10),
		FeeBreakdown:        quote.Fee,
		GasUnits:            quote.Gas.Units,
		GasPricePerUnit:     quote.Gas.UnitPrice,
		Price:               quote.Price,
		TransactionTemplate: quote.TransactionTemplate,
		RecentBlockhash:     quote.RecentBlockhash,
		ExpiresAt:           quote.ExpiresAt,
	})
}

func (s *Server) handleSubmit(c *gin.Context) {
	body, err := rawBody(c)
	if err != nil {
		writeError(c, relayer.ValidationError("failed to read request body"))
		return
	}
	if err := validateBody(submitSchema, body); err != nil {
		writeError(c, err)
		return
	}
	var req SubmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(c, relayer.ValidationError("invalid request body"))
		return
	}

	sponsorship, err := toSponsorshipRequest(req)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()

	result, err := s.service.Submit(ctx, sponsorship)
	if err != nil {
		s.logFailure("submit", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SubmitResponse{
		TransactionID: result.TransactionID,
		Hash:          result.Hash,
		Status:        result.Status,
		Fee:           strconv.FormatUint(result.Fee, 10),
		Tracked:       result.Tracked,
	})
}

func toSponsorshipRequest(req SubmitRequest) (relayer.SponsorshipRequest, error) {
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return relayer.SponsorshipRequest{}, err
	}
	var declared *uint64
	if req.Fee != nil {
		fee, err := parseAmount("fee", *req.Fee)
		if err != nil {
			return relayer.SponsorshipRequest{}, err
		}
		declared = &fee
	}

	sig, err := signature.DecodeSignature(req.Signature.Bytes)
	if err != nil {
		return relayer.SponsorshipRequest{}, relayer.NewRelayError(relayer.ErrCodeSignatureInvalid, "signature encoding not recognized", nil)
	}
	pub, err := signature.DecodePublicKey(req.Signature.PublicKey)
	if err != nil {
		return relayer.SponsorshipRequest{}, relayer.NewRelayError(relayer.ErrCodeSignatureInvalid, "public key encoding not recognized", nil)
	}

	return relayer.SponsorshipRequest{
		QuoteID:     req.QuoteID,
		FromAddress: req.FromAddress,
		ToAddress:   req.ToAddress,
		Amount:      amount,
		Coin:        req.Coin,
		DeclaredFee: declared,
		Signature:   relayer.WalletSignature{Signature: sig, PublicKey: pub},
	}, nil
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	status, err := s.service.Status(ctx, c.Param("hash"))
	if err != nil {
		s.logFailure("status", err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	health, err := s.service.Health(ctx)
	if err != nil {
		s.logFailure("health", err)
		writeError(c, err)
		return
	}
	code := http.StatusOK
	if health.Status != relayer.HealthStatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

func (s *Server) handleStats(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	c.JSON(http.StatusOK, s.service.Stats(ctx))
}

func (s *Server) handleSafetyStats(c *gin.Context) {
	ctx, cancel := s.requestContext(c)
	defer cancel()

	stats, err := s.service.SafetyStats(ctx, c.Query("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) logFailure(op string, err error) {
	code := relayer.CodeOf(err)
	if code == relayer.ErrCodeInternal {
		s.logger.Error(op+" failed", zap.Error(err))
		return
	}
	s.logger.Info(op+" declined", zap.String("code", code), zap.Error(err))
}

func parseAmount(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, relayer.ValidationError("%s must be an integer number of base units", field)
	}
	return v, nil
}
