package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ThePrimedTNT/astolfo/pkg/retrylimit"
)

const systemPrompt = "You are Astolfo, a cheerful Discord bot. Answer briefly. " +
	"If the user is clearly asking you to run one of your commands, reply with " +
	"only that command line prefixed by a slash."

// Pollinations talks to the pollinations.ai OpenAI-compatible endpoint.
type Pollinations struct {
	url    string
	client *http.Client
	lim    *retrylimit.AdaptiveLimiter
}

// NewPollinations creates a provider with a 25s request timeout and an
// adaptive rate limit shared across guilds.
func NewPollinations(url string) *Pollinations {
	return &Pollinations{
		url:    url,
		client: &http.Client{Timeout: 25 * time.Second},
		lim:    retrylimit.NewAdaptiveLimiter(2, 1, 5, 1, 0.5),
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *Pollinations) Process(ctx context.Context, userID, text string) (Reply, error) {
	payload := map[string]any{
		"model": "openai",
		"messages": []wireMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		"temperature": 1,
		"private":     true,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, err
	}

	var out string
	err = retrylimit.Do(ctx, p.lim, 3, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &retrylimit.StatusError{Code: resp.StatusCode, Body: truncate(body)}
		}
		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			return fmt.Errorf("chatbot returned html")
		}

		var parsed struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return err
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("chatbot returned no choices")
		}
		out = parsed.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return Reply{}, err
	}
	return classify(out), nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "…"
	}
	return string(b)
}
