package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afredojala/agent-demo/internal/llm"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestCompleteSendsToolsAndDeterministicSampling(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		captured.Authorization = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured.Body))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"finish_reason": "tool_calls",
				"message": map[string]any{
					"role":    "assistant",
					"content": nil,
					"tool_calls": []map[string]any{{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "tool_search_customers",
							"arguments": `{"name":"Acme"}`,
						},
					}},
				},
			}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1/", Timeout: time.Second})
	require.NoError(t, err)
	client.httpClient = srv.Client()

	resp, err := client.Complete(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "find acme"}},
		Tools: []llm.Tool{{Type: "function", Function: llm.FunctionDef{
			Name:       "tool_search_customers",
			Parameters: json.RawMessage(`{"type":"object","properties":{}}`),
		}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer test", captured.Authorization)
	assert.Equal(t, "gpt-4o", captured.Body["model"])
	assert.Equal(t, "auto", captured.Body["tool_choice"])
	temperature, ok := captured.Body["temperature"]
	require.True(t, ok, "temperature must be sent explicitly")
	assert.Equal(t, float64(0), temperature)
	assert.Len(t, captured.Body["tools"], 1)

	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, "tool_search_customers", resp.Message.ToolCalls[0].Function.Name)
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)
	client.httpClient = srv.Client()

	_, err = client.Complete(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)
	client.httpClient = srv.Client()

	_, err = client.Complete(context.Background(), llm.Request{})
	assert.Error(t, err)
}
