package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/poirierunited/get-ahead-ai/pkg/provider/llm"
)

// TestConvertMessage_Roles checks that every supported role is converted.
func TestConvertMessage_Roles(t *testing.T) {
	t.Parallel()

	sys, err := convertMessage(llm.Message{Role: "system", Content: "You grade interviews."})
	if err != nil {
		t.Fatalf("system: unexpected error: %v", err)
	}
	if sys.OfSystem == nil {
		t.Error("expected OfSystem to be set")
	}

	user, err := convertMessage(llm.Message{Role: "user", Content: "- user: hello"})
	if err != nil {
		t.Fatalf("user: unexpected error: %v", err)
	}
	if user.OfUser == nil {
		t.Error("expected OfUser to be set")
	}

	asst, err := convertMessage(llm.Message{Role: "assistant", Content: "{}"})
	if err != nil {
		t.Fatalf("assistant: unexpected error: %v", err)
	}
	if asst.OfAssistant == nil {
		t.Error("expected OfAssistant to be set")
	}
}

// TestConvertMessage_UnknownRole checks that unknown roles return an error.
func TestConvertMessage_UnknownRole(t *testing.T) {
	t.Parallel()
	if _, err := convertMessage(llm.Message{Role: "tool", Content: "x"}); err == nil {
		t.Fatal("expected error for unsupported role, got nil")
	}
}

func TestBuildParams_ResponseSchema(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4o"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "grade",
		Messages:     []llm.Message{{Role: "user", Content: "transcript"}},
		ResponseSchema: &llm.JSONSchema{
			Name:   "feedback",
			Schema: map[string]any{"type": "object"},
			Strict: true,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %d", len(params.Messages))
	}
	if params.ResponseFormat.OfJSONSchema == nil {
		t.Fatal("expected json_schema response format")
	}
	if got := params.ResponseFormat.OfJSONSchema.JSONSchema.Name; got != "feedback" {
		t.Errorf("schema name = %q, want feedback", got)
	}
}

func TestBuildParams_NoMessages(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4o"}
	if _, err := p.buildParams(llm.CompletionRequest{SystemPrompt: "x"}); err == nil {
		t.Fatal("expected error for empty message list")
	}
}

// TestComplete_RoundTrip runs Complete against a stub Chat Completions endpoint.
func TestComplete_RoundTrip(t *testing.T) {
	t.Parallel()

	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		bodies <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"totalScore\": 71}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "grade",
		Messages:     []llm.Message{{Role: "user", Content: "- user: hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"totalScore": 71}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if got := (<-bodies)["model"]; got != "gpt-4o" {
		t.Errorf("request model = %v, want gpt-4o", got)
	}
}

// TestComplete_ServerErrorNotRetried checks that a failing endpoint is hit once.
func TestComplete_ServerErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error from failing endpoint")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 request, got %d", n)
	}
}

// TestNew_MissingAPIKey ensures constructor rejects an empty API key.
func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o"); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

// TestNew_MissingModel ensures constructor rejects an empty model.
func TestNew_MissingModel(t *testing.T) {
	t.Parallel()
	if _, err := New("sk-test", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "gpt-4o-mini", WithOrganization("org-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.Name() != "openai/gpt-4o-mini" {
		t.Errorf("Name() = %q", p.Name())
	}
}
