// Package request defines the validated request union accepted at the
// system boundary. Handlers must call Validate before anything downstream
// sees a request.
package request

import (
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Purpose classifies what the generated content is for.
type Purpose string

const (
	// PurposeCatalog is durable catalog content shown to many learners.
	PurposeCatalog Purpose = "catalog-content"
	// PurposePractice is low-stakes, throwaway practice material.
	PurposePractice Purpose = "practice-content"
)

// Urgency is how quickly the caller needs a high-quality answer.
type Urgency string

const (
	UrgencyLow  Urgency = "low"
	UrgencyHigh Urgency = "high"
)

// Kind discriminates the request union.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Request is the tagged union over text and image generation requests.
// Implementations are immutable once validated.
type Request interface {
	Kind() Kind
	Tenant() string
	// Category names the fallback catalog bucket for this request.
	Category() string
	Validate() error
}

// TextRequest asks for generated lesson or practice text.
type TextRequest struct {
	TenantID  string                         `json:"tenant_id"`
	Purpose   Purpose                        `json:"purpose"`
	Urgency   Urgency                        `json:"urgency"`
	SubjectID string                         `json:"subject_id"`
	Messages  []openai.ChatCompletionMessage `json:"messages"`
}

func (r TextRequest) Kind() Kind     { return KindText }
func (r TextRequest) Tenant() string { return r.TenantID }

func (r TextRequest) Category() string {
	if r.SubjectID != "" {
		return r.SubjectID
	}
	return string(KindText)
}

func (r TextRequest) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if err := validPurpose(r.Purpose); err != nil {
		return err
	}
	if r.Urgency != UrgencyLow && r.Urgency != UrgencyHigh {
		return fmt.Errorf("urgency must be %q or %q, got %q", UrgencyLow, UrgencyHigh, r.Urgency)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range r.Messages {
		if m.Role == "" {
			return fmt.Errorf("messages[%d]: role is required", i)
		}
	}
	return nil
}

// ImageRequest asks for a generated illustration.
type ImageRequest struct {
	TenantID     string  `json:"tenant_id"`
	Purpose      Purpose `json:"purpose"`
	Urgency      Urgency `json:"urgency"`
	SubjectID    string  `json:"subject_id"`
	PromptText   string  `json:"prompt_text"`
	PreferSquare bool    `json:"prefer_square"`
}

func (r ImageRequest) Kind() Kind     { return KindImage }
func (r ImageRequest) Tenant() string { return r.TenantID }

func (r ImageRequest) Category() string { return string(KindImage) }

func (r ImageRequest) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if err := validPurpose(r.Purpose); err != nil {
		return err
	}
	if r.Urgency != "" && r.Urgency != UrgencyLow && r.Urgency != UrgencyHigh {
		return fmt.Errorf("urgency must be %q or %q, got %q", UrgencyLow, UrgencyHigh, r.Urgency)
	}
	if r.PromptText == "" {
		return fmt.Errorf("prompt_text is required")
	}
	return nil
}

func validPurpose(p Purpose) error {
	if p != PurposeCatalog && p != PurposePractice {
		return fmt.Errorf("purpose must be %q or %q, got %q", PurposeCatalog, PurposePractice, p)
	}
	return nil
}
