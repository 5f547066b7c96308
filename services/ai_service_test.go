package services

import (
	"TripDesk/config"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func contextWithShortTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 100*time.Millisecond)
}

func newFakeAIServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestAIService(baseURL string) *AIService {
	return NewAIService(&config.AIConfig{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		Model:          "test-model",
		TimeoutSeconds: 1,
	})
}

func TestRespondParsesTransferMarker(t *testing.T) {
	server := newFakeAIServer(t, "這個問題需要專人協助 [TRANSFER]", http.StatusOK)
	defer server.Close()

	result := newTestAIService(server.URL).Respond(context.Background(), nil, "我的訂單一直扣款失敗")
	if !result.SuggestsTransfer {
		t.Fatal("expected suggests_transfer to be true")
	}
	if result.Text != "這個問題需要專人協助" {
		t.Fatalf("expected marker stripped from text, got %q", result.Text)
	}
}

func TestRespondParsesSpecialAction(t *testing.T) {
	server := newFakeAIServer(t, "請到這裡修改密碼 [ACTION:navigate-to-password-change]", http.StatusOK)
	defer server.Close()

	result := newTestAIService(server.URL).Respond(context.Background(), nil, "我想改密碼")
	if result.SpecialAction != "navigate-to-password-change" {
		t.Fatalf("expected special action, got %q", result.SpecialAction)
	}
	if result.SuggestsTransfer {
		t.Fatal("expected no transfer suggestion")
	}
	if result.Text != "請到這裡修改密碼" {
		t.Fatalf("expected marker stripped, got %q", result.Text)
	}
}

func TestRespondIgnoresUnknownAction(t *testing.T) {
	server := newFakeAIServer(t, "好的 [ACTION:launch-missiles]", http.StatusOK)
	defer server.Close()

	result := newTestAIService(server.URL).Respond(context.Background(), nil, "你好")
	if result.SpecialAction != "" {
		t.Fatalf("expected unknown action ignored, got %q", result.SpecialAction)
	}
	if result.Text != "好的" {
		t.Fatalf("expected marker stripped, got %q", result.Text)
	}
}

func TestRespondFallbackOnServerError(t *testing.T) {
	server := newFakeAIServer(t, "", http.StatusInternalServerError)
	defer server.Close()

	result := newTestAIService(server.URL).Respond(context.Background(), nil, "你好")
	if result.Text != aiFallbackText {
		t.Fatalf("expected fallback text, got %q", result.Text)
	}
	if result.SuggestsTransfer {
		t.Fatal("fallback must never suggest transfer")
	}
}

func TestRespondFallbackOnTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	result := newTestAIService(server.URL).Respond(context.Background(), nil, "你好")
	if result.Text != aiFallbackText {
		t.Fatalf("expected fallback text on timeout, got %q", result.Text)
	}
	if result.SuggestsTransfer {
		t.Fatal("fallback must never suggest transfer")
	}
}

func TestInterpretAIOutput(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		text     string
		transfer bool
		action   string
	}{
		{"plain", "您好，有什麼可以幫您？", "您好，有什麼可以幫您？", false, ""},
		{"transfer only", "[TRANSFER]", aiFallbackText, true, ""},
		{"action and transfer", "交給專人 [ACTION:navigate-to-orders][TRANSFER]", "交給專人", true, "navigate-to-orders"},
		{"unterminated marker", "好的 [ACTION:nav", "好的 [ACTION:nav", false, ""},
	}
	for _, tc := range cases {
		result := interpretAIOutput(tc.input)
		if result.Text != tc.text {
			t.Fatalf("%s: expected text %q, got %q", tc.name, tc.text, result.Text)
		}
		if result.SuggestsTransfer != tc.transfer {
			t.Fatalf("%s: expected transfer=%v", tc.name, tc.transfer)
		}
		if result.SpecialAction != tc.action {
			t.Fatalf("%s: expected action %q, got %q", tc.name, tc.action, result.SpecialAction)
		}
	}
}
