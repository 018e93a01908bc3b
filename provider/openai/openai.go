package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gatewarden/gatewarden/provider"
)

// client implements provider.Oracle against any OpenAI-compatible
// chat-completions endpoint (OpenAI, OpenRouter, local gateways).
type client struct {
	apiKey            string
	baseURL           string
	conversationModel string
	reasoningModel    string
	temperature       float64
	maxTokens         int
	httpClient        *http.Client
}

// request represents a chat-completions request.
type request struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Stream      bool               `json:"stream"`
}

// response covers both the standard choices shape and the flat message
// shape some OpenAI-compatible gateways return.
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Message *struct {
		Content string `json:"content"`
	} `json:"message,omitempty"`
}

// Reasoning models may prefix replies with a thinking block; everything up
// to the closing tag is discarded before the reply is used.
var thinkPreamble = regexp.MustCompile(`(?s)^.*</think>\s*`)

// NewClient creates an Oracle backed by an OpenAI-compatible API.
// conversationModel drives dialogue turns; reasoningModel drives planning
// and judgment.
func NewClient(apiKey, baseURL, conversationModel, reasoningModel string, temperature float64, maxTokens int, timeout time.Duration) provider.Oracle {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/chat/completions"
	}
	return &client{
		apiKey:            apiKey,
		baseURL:           baseURL,
		conversationModel: conversationModel,
		reasoningModel:    reasoningModel,
		temperature:       temperature,
		maxTokens:         maxTokens,
		httpClient:        &http.Client{Timeout: timeout},
	}
}

// Plan derives the interrogation plan from the operator policy.
func (c *client) Plan(ctx context.Context, criteria, topic, personality string) (string, error) {
	systemPrompt := `
You are a security planner for a conversational gatekeeper. The gatekeeper
chats with an unknown visitor and must decide, from conversation alone,
whether the visitor satisfies the operator's admission criteria.

Produce a short, concrete interrogation plan: what the persona should steer
the conversation toward, which signals confirm or refute the criteria, and
when the conversation can be considered complete.

Respond with the plan as plain text. Do not include any other commentary.
`
	userPrompt := fmt.Sprintf(`
ADMISSION CRITERIA: %q
DISCOURSE TOPIC: %q
PERSONA: %q
`, criteria, topic, personality)

	messages := []provider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
	out, err := c.sendRequest(ctx, c.reasoningModel, 0.1, messages)
	if err != nil {
		return "", &provider.OracleError{Mode: "plan", Err: err}
	}
	if strings.TrimSpace(out) == "" {
		return "", &provider.OracleError{Mode: "plan", Err: fmt.Errorf("empty completion content")}
	}
	return out, nil
}

// Converse produces the next assistant reply for the ordered history.
func (c *client) Converse(ctx context.Context, history []provider.Message) (string, error) {
	out, err := c.sendRequest(ctx, c.conversationModel, c.temperature, history)
	if err != nil {
		return "", &provider.OracleError{Mode: "converse", Err: err}
	}
	if strings.TrimSpace(out) == "" {
		return "", &provider.OracleError{Mode: "converse", Err: fmt.Errorf("empty completion content")}
	}
	return out, nil
}

// Judge renders the access verdict over a finished conversation.
func (c *client) Judge(ctx context.Context, criteria, topic, plan string, history []provider.Message) (provider.Verdict, error) {
	systemPrompt := fmt.Sprintf(`
You are the judge of a conversational gatekeeper. A visitor has finished a
conversation with the gatekeeper persona. Decide whether the visitor
satisfies the operator's admission criteria, using only the transcript.

ADMISSION CRITERIA: %q
DISCOURSE TOPIC: %q
INTERROGATION PLAN:
%s

Respond ONLY with valid JSON in the following format:
{"access": true_or_false, "reason": "one short sentence"}
Do not include any other text or explanation.
`, criteria, topic, plan)

	var transcript strings.Builder
	for _, m := range history {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}
	userPrompt := fmt.Sprintf("CONVERSATION TRANSCRIPT:\n%s", transcript.String())

	messages := []provider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
	raw, err := c.sendRequest(ctx, c.reasoningModel, 0.1, messages)
	if err != nil {
		return provider.Verdict{}, &provider.OracleError{Mode: "judge", Err: err}
	}
	return parseVerdict(raw)
}

// parseVerdict decodes the strict {access, reason} object, tolerating a
// fenced code block around it.
func parseVerdict(raw string) (provider.Verdict, error) {
	body := strings.TrimSpace(stripCodeFence(raw))
	if body == "" {
		return provider.Verdict{}, &provider.VerdictParseError{Raw: raw, Err: fmt.Errorf("empty verdict body")}
	}
	var decoded struct {
		Access *bool  `json:"access"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		return provider.Verdict{}, &provider.VerdictParseError{Raw: raw, Err: err}
	}
	if decoded.Access == nil {
		return provider.Verdict{}, &provider.VerdictParseError{Raw: raw, Err: fmt.Errorf("missing access field")}
	}
	return provider.Verdict{Access: *decoded.Access, Reason: decoded.Reason}, nil
}

// stripCodeFence removes a single fenced code block wrapper, with an
// optional language tag, when the whole reply is fenced.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	rest := trimmed[3:]
	if idx := strings.IndexByte(rest, '\n'); idx != -1 {
		rest = rest[idx+1:]
	} else {
		return s
	}
	if end := strings.LastIndex(rest, "```"); end != -1 {
		return rest[:end]
	}
	return s
}

func (c *client) sendRequest(ctx context.Context, model string, temperature float64, messages []provider.Message) (string, error) {
	requestBody := request{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   c.maxTokens,
		Stream:      false,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var content string
	switch {
	case len(decoded.Choices) > 0:
		content = decoded.Choices[0].Message.Content
	case decoded.Message != nil:
		content = decoded.Message.Content
	default:
		return "", fmt.Errorf("response has neither choices nor message")
	}

	// An empty remainder is judged by the caller: dialogue modes treat it
	// as an oracle failure, judge mode as an unparsable verdict.
	return thinkPreamble.ReplaceAllString(content, ""), nil
}
