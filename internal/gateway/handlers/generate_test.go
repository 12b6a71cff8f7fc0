package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lessonloom/gateway/internal/gateway/broker"
	"github.com/lessonloom/gateway/internal/gateway/request"
	"github.com/lessonloom/gateway/internal/shared/models"
)

type stubGenerator struct {
	resp    *broker.Response
	lastReq request.Request
}

func (s *stubGenerator) Generate(_ context.Context, req request.Request, _ *models.TenantSettings) *broker.Response {
	s.lastReq = req
	return s.resp
}

func doText(t *testing.T, h *GenerateHandler, body string, tenant *models.TenantSettings) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/generate/text", strings.NewReader(body))
	if tenant != nil {
		req = req.WithContext(ContextWithTenant(req.Context(), tenant))
	}
	rec := httptest.NewRecorder()
	h.HandleGenerateText(rec, req)
	return rec
}

func TestHandleGenerateText(t *testing.T) {
	stub := &stubGenerator{resp: &broker.Response{
		Content: "a lesson",
		CostUSD: 0.0123,
		Source:  broker.SourceRemote,
	}}
	h := NewGenerateHandler(stub, nil, 50, nil)
	tenant := &models.TenantSettings{TenantID: "t1"}

	body := `{"purpose":"catalog-content","urgency":"high","subject_id":"math",
		"messages":[{"role":"user","content":"explain place value"}]}`
	rec := doText(t, h, body, tenant)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "remote", rec.Header().Get("X-Source"))
	assert.Equal(t, "0.012300", rec.Header().Get("X-Cost-USD"))

	var resp broker.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a lesson", resp.Content)

	// The tenant comes from the resolved settings, never the body.
	sent, ok := stub.lastReq.(request.TextRequest)
	require.True(t, ok)
	assert.Equal(t, "t1", sent.TenantID)
	assert.Equal(t, request.UrgencyHigh, sent.Urgency)
}

func TestHandleGenerateTextValidation(t *testing.T) {
	stub := &stubGenerator{resp: &broker.Response{}}
	h := NewGenerateHandler(stub, nil, 50, nil)
	tenant := &models.TenantSettings{TenantID: "t1"}

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"purpose":`, http.StatusBadRequest},
		{"bad purpose", `{"purpose":"ads","messages":[{"role":"user","content":"x"}]}`, http.StatusBadRequest},
		{"no messages", `{"purpose":"catalog-content","urgency":"low","messages":[]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doText(t, h, tt.body, tenant)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestHandleGenerateTextRequiresTenant(t *testing.T) {
	h := NewGenerateHandler(&stubGenerator{resp: &broker.Response{}}, nil, 50, nil)
	rec := doText(t, h, `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleGenerateImage(t *testing.T) {
	stub := &stubGenerator{resp: &broker.Response{
		URL:    "https://img.example/x.png",
		Source: broker.SourceRemote,
	}}
	h := NewGenerateHandler(stub, nil, 50, nil)

	body := `{"purpose":"practice-content","prompt_text":"a clock face","prefer_square":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/generate/image", strings.NewReader(body))
	req = req.WithContext(ContextWithTenant(req.Context(), &models.TenantSettings{TenantID: "t9"}))
	rec := httptest.NewRecorder()
	h.HandleGenerateImage(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	sent, ok := stub.lastReq.(request.ImageRequest)
	require.True(t, ok)
	assert.Equal(t, "t9", sent.TenantID)
	assert.True(t, sent.PreferSquare)
}

func TestQualityWarningHeader(t *testing.T) {
	stub := &stubGenerator{resp: &broker.Response{
		Content:        "borderline lesson",
		Source:         broker.SourceRemote,
		QualityWarning: true,
	}}
	h := NewGenerateHandler(stub, nil, 50, nil)

	body := `{"purpose":"catalog-content","urgency":"low","messages":[{"role":"user","content":"x"}]}`
	rec := doText(t, h, body, &models.TenantSettings{TenantID: "t1"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Quality-Warning"))
}
