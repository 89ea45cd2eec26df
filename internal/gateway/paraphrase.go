// internal/gateway/paraphrase.go
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// Paraphraser rewrites an outbound message while preserving its meaning.
// Callers treat any failure as "use the original message".
type Paraphraser interface {
	Rewrite(ctx context.Context, message string) (string, error)
}

// OpenAIParaphraser rewrites Portuguese commercial messages through the chat
// completions API. Enabled only when OPENAI_PARAPHRASE=true and a key is set.
type OpenAIParaphraser struct {
	httpClient *http.Client
}

// NewParaphraserFromEnv returns nil when paraphrasing is disabled.
func NewParaphraserFromEnv() Paraphraser {
	if !strings.EqualFold(os.Getenv("OPENAI_PARAPHRASE"), "true") {
		return nil
	}
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil
	}
	return &OpenAIParaphraser{
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

const paraphraseSystemPrompt = "Você é um assistente que reescreve mensagens comerciais em português mantendo todo o contexto, sem adicionar ou remover informações. Produza uma versão natural e concisa com o mesmo tamanho aproximado."

func (p *OpenAIParaphraser) Rewrite(ctx context.Context, message string) (string, error) {
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	body, _ := json.Marshal(map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": paraphraseSystemPrompt},
			{"role": "user", "content": "Crie uma versão diferente desta mensagem, mantendo todo o contexto e o mesmo tamanho de texto:\n\n" + message},
		},
		"temperature": 0.7,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+os.Getenv("OPENAI_API_KEY"))

	res, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paraphrase failed: %d", res.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("paraphrase returned empty content")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
