package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sashabaranov/go-openai"

	"github.com/lessonloom/gateway/internal/gateway/broker"
	"github.com/lessonloom/gateway/internal/gateway/ledger"
	"github.com/lessonloom/gateway/internal/gateway/request"
	"github.com/lessonloom/gateway/internal/shared/models"
)

// Generator runs one governed generation. Satisfied by *broker.Broker.
type Generator interface {
	Generate(ctx context.Context, req request.Request, settings *models.TenantSettings) *broker.Response
}

type GenerateHandler struct {
	broker     Generator
	ledger     *ledger.Ledger
	defaultCap float64
	logger     *slog.Logger
}

func NewGenerateHandler(b Generator, l *ledger.Ledger, defaultCap float64, logger *slog.Logger) *GenerateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateHandler{broker: b, ledger: l, defaultCap: defaultCap, logger: logger}
}

type textBody struct {
	Purpose   string `json:"purpose"`
	Urgency   string `json:"urgency"`
	SubjectID string `json:"subject_id"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type imageBody struct {
	Purpose      string `json:"purpose"`
	Urgency      string `json:"urgency"`
	SubjectID    string `json:"subject_id"`
	PromptText   string `json:"prompt_text"`
	PreferSquare bool   `json:"prefer_square"`
}

// HandleGenerateText handles POST /v1/generate/text
func (h *GenerateHandler) HandleGenerateText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	settings := TenantFromContext(ctx)
	if settings == nil {
		http.Error(w, "missing tenant", http.StatusUnauthorized)
		return
	}

	var body textBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(body.Messages))
	for _, m := range body.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	urgency := request.Urgency(body.Urgency)
	if urgency == "" {
		urgency = request.UrgencyLow
	}

	req := request.TextRequest{
		TenantID:  settings.TenantID,
		Purpose:   request.Purpose(body.Purpose),
		Urgency:   urgency,
		SubjectID: body.SubjectID,
		Messages:  messages,
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := h.broker.Generate(ctx, req, settings)
	h.writeResponse(w, resp, startTime)
}

// HandleGenerateImage handles POST /v1/generate/image
func (h *GenerateHandler) HandleGenerateImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	settings := TenantFromContext(ctx)
	if settings == nil {
		http.Error(w, "missing tenant", http.StatusUnauthorized)
		return
	}

	var body imageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req := request.ImageRequest{
		TenantID:     settings.TenantID,
		Purpose:      request.Purpose(body.Purpose),
		Urgency:      request.Urgency(body.Urgency),
		SubjectID:    body.SubjectID,
		PromptText:   body.PromptText,
		PreferSquare: body.PreferSquare,
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := h.broker.Generate(ctx, req, settings)
	h.writeResponse(w, resp, startTime)
}

// HandleTenantSpend handles GET /v1/tenants/{tenantID}/spend
func (h *GenerateHandler) HandleTenantSpend(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		http.Error(w, "tenant id required", http.StatusBadRequest)
		return
	}

	periodStart := ledger.PeriodStart(time.Now())
	spend, err := h.ledger.CurrentSpend(r.Context(), tenantID, periodStart)
	if err != nil {
		h.logger.Error("spend lookup failed", "tenant_id", tenantID, "error", err)
		http.Error(w, "spend lookup failed", http.StatusInternalServerError)
		return
	}

	capUSD := h.defaultCap
	if settings := TenantFromContext(r.Context()); settings != nil &&
		settings.TenantID == tenantID && settings.MonthlyCapUSD != nil {
		capUSD = *settings.MonthlyCapUSD
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"tenant_id":    tenantID,
		"period_start": periodStart.Format(time.RFC3339),
		"spend_usd":    spend,
		"cap_usd":      capUSD,
	})
}

func (h *GenerateHandler) writeResponse(w http.ResponseWriter, resp *broker.Response, startTime time.Time) {
	latency := int(time.Since(startTime).Milliseconds())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Source", string(resp.Source))
	w.Header().Set("X-Cost-USD", fmt.Sprintf("%.6f", resp.CostUSD))
	w.Header().Set("X-Latency-Ms", fmt.Sprintf("%d", latency))
	if resp.QualityWarning {
		w.Header().Set("X-Quality-Warning", "true")
	}

	json.NewEncoder(w).Encode(resp)
}
