package request

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRequestValidate(t *testing.T) {
	valid := TextRequest{
		TenantID: "t1",
		Purpose:  PurposeCatalog,
		Urgency:  UrgencyLow,
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hi"}},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*TextRequest)
	}{
		{"missing tenant", func(r *TextRequest) { r.TenantID = "" }},
		{"bad purpose", func(r *TextRequest) { r.Purpose = "marketing" }},
		{"bad urgency", func(r *TextRequest) { r.Urgency = "asap" }},
		{"no messages", func(r *TextRequest) { r.Messages = nil }},
		{"message without role", func(r *TextRequest) { r.Messages = []openai.ChatCompletionMessage{{Content: "hi"}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestImageRequestValidate(t *testing.T) {
	valid := ImageRequest{
		TenantID:   "t1",
		Purpose:    PurposePractice,
		PromptText: "a diagram of the water cycle",
	}
	require.NoError(t, valid.Validate())

	missingPrompt := valid
	missingPrompt.PromptText = ""
	assert.Error(t, missingPrompt.Validate())

	badUrgency := valid
	badUrgency.Urgency = "now"
	assert.Error(t, badUrgency.Validate())

	// Urgency is optional for images.
	noUrgency := valid
	noUrgency.Urgency = ""
	assert.NoError(t, noUrgency.Validate())
}

func TestCategory(t *testing.T) {
	withSubject := TextRequest{SubjectID: "math"}
	assert.Equal(t, "math", withSubject.Category())

	noSubject := TextRequest{}
	assert.Equal(t, "text", noSubject.Category())

	img := ImageRequest{SubjectID: "science"}
	assert.Equal(t, "image", img.Category())
}
