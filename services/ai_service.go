package services

import (
	"TripDesk/config"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// AI 调用失败时的兜底回复，永远不阻塞房间
const aiFallbackText = "抱歉，我暫時無法回應您的問題，請稍後再試，或輸入「轉人工」聯繫真人客服。"

// 允许的特殊动作，AI 输出不在集合内的动作直接忽略
var allowedSpecialActions = map[string]bool{
	"navigate-to-password-change": true,
	"navigate-to-orders":          true,
	"navigate-to-faq":             true,
}

const aiSystemPrompt = `你是旅遊購物平台的智慧客服，使用繁體中文回答，語氣親切簡潔。
只回答訂單、行程、商品、帳號相關問題，其他問題請禮貌說明無法協助。
如果判斷使用者需要真人客服協助（情緒激動、問題超出能力範圍、明確要求真人），在回覆結尾加上 [TRANSFER]。
如果使用者想修改密碼，在回覆結尾加上 [ACTION:navigate-to-password-change]；
想查看訂單加上 [ACTION:navigate-to-orders]；想看常見問題加上 [ACTION:navigate-to-faq]。
標記只能出現在結尾，不要向使用者解釋這些標記。`

// AIResult 适配器对外的解释结果
type AIResult struct {
	Text             string `json:"text"`
	SuggestsTransfer bool   `json:"suggests_transfer"`
	SpecialAction    string `json:"special_action,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// AIService 调用外部大模型服务（chat-completions 协议）并解释其输出。
// 自然语言理解完全交给外部模型，这里只负责调用策略和标记解析。
type AIService struct {
	cfg    *config.AIConfig
	client *http.Client
}

func NewAIService(cfg *config.AIConfig) *AIService {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AIService{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// HistoryEntry 传给模型的上下文条目
type HistoryEntry struct {
	FromUser bool
	Body     string
}

// Respond 同步请求 AI 回复。任何错误都降级为固定兜底文案，
// 且不建议转人工，绝不让房间卡住。
func (s *AIService) Respond(ctx context.Context, history []HistoryEntry, userMessage string) AIResult {
	text, err := s.call(ctx, history, userMessage)
	if err != nil {
		log.Printf("AI adapter unavailable: %v", err)
		return AIResult{Text: aiFallbackText}
	}
	return interpretAIOutput(text)
}

func (s *AIService) call(ctx context.Context, history []HistoryEntry, userMessage string) (string, error) {
	messages := []chatMessage{{Role: "system", Content: aiSystemPrompt}}
	for _, entry := range history {
		role := "assistant"
		if entry.FromUser {
			role = "user"
		}
		messages = append(messages, chatMessage{Role: role, Content: entry.Body})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userMessage})

	reqBody := chatRequest{
		Model:       s.cfg.Model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   1024,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.cfg.APIKey))

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ai service error: status %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// interpretAIOutput 解析模型文本中的内联标记并从可见文本里剥掉。
// 未识别的动作忽略，不当作错误。
func interpretAIOutput(text string) AIResult {
	result := AIResult{}
	text = strings.TrimSpace(text)

	if strings.Contains(text, "[TRANSFER]") {
		result.SuggestsTransfer = true
		text = strings.ReplaceAll(text, "[TRANSFER]", "")
	}

	for {
		start := strings.Index(text, "[ACTION:")
		if start < 0 {
			break
		}
		end := strings.Index(text[start:], "]")
		if end < 0 {
			break
		}
		action := text[start+len("[ACTION:") : start+end]
		if allowedSpecialActions[action] && result.SpecialAction == "" {
			result.SpecialAction = action
		}
		text = text[:start] + text[start+end+1:]
	}

	result.Text = strings.TrimSpace(text)
	if result.Text == "" {
		result.Text = aiFallbackText
	}
	return result
}
