package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"northpole/internal/config"
	"northpole/internal/logger"
)

// ExtractedWish is one gift request pulled out of a letter.
type ExtractedWish struct {
	RawText        string `json:"raw_text"`
	NormalizedName string `json:"normalized_name"`
	Category       string `json:"category"`
}

// ContentFlag is a child-safety concern the moderation pass raised.
type ContentFlag struct {
	FlagType    string  `json:"flag_type"`
	Severity    string  `json:"severity"`
	Excerpt     string  `json:"excerpt"`
	Confidence  float64 `json:"confidence"`
	Explanation string  `json:"explanation"`
}

// DeniedWish is a gift request the parents declined, with their reason.
type DeniedWish struct {
	Name   string
	Reason string
}

// ReplyContext is everything the reply generator sees about the child.
type ReplyContext struct {
	ChildName       string
	ChildAge        int
	Language        string
	LetterText      string
	ApprovedWishes  []string
	DeniedWishes    []DeniedWish
	IncompleteDeeds []string
	CompletedDeeds  []string
	SuggestDeed     bool
}

// GeneratedReply is Santa's answer to a letter.
type GeneratedReply struct {
	BodyText      string `json:"body_text"`
	SuggestedDeed string `json:"suggested_deed"`
}

// GeneratedEmail is a standalone deed email.
type GeneratedEmail struct {
	Subject  string `json:"subject"`
	BodyText string `json:"body_text"`
}

// SafetyVerdict is the outcome of the independent outbound-email check.
type SafetyVerdict struct {
	IsSafe         bool     `json:"is_safe"`
	Severity       string   `json:"severity"`
	Issues         []string `json:"issues"`
	Recommendation string   `json:"recommendation"`
}

// Approved reports whether the verdict clears the email for sending. Both
// fields must agree; anything else blocks.
func (v *SafetyVerdict) Approved() bool {
	return v != nil && v.IsSafe && v.Recommendation == "APPROVE"
}

// ProductInfo describes a gift idea looked up for a wish.
type ProductInfo struct {
	EstimatedPrice float64 `json:"estimated_price"`
	Currency       string  `json:"currency"`
	ProductURL     string  `json:"product_url"`
	ImageURL       string  `json:"image_url"`
	Description    string  `json:"description"`
}

// Client is the language-model surface the pipeline depends on.
type Client interface {
	ExtractWishItems(ctx context.Context, childName, letterText string) ([]*ExtractedWish, error)
	ClassifyContent(ctx context.Context, childName, letterText, strictness string) ([]*ContentFlag, error)
	GenerateReply(ctx context.Context, rc *ReplyContext) (*GeneratedReply, error)
	GenerateDeedEmail(ctx context.Context, deedDescription, childName string, congrats bool) (*GeneratedEmail, error)
	CheckEmailSafety(ctx context.Context, content, emailType, childName string) (*SafetyVerdict, error)
	SearchProduct(ctx context.Context, itemName, country string) (*ProductInfo, error)
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	cfg  *config.OpenAISettings
	http *http.Client
	log  *logger.Logger
}

func NewOpenAIClient(cfg *config.OpenAISettings, log *logger.Logger) *OpenAIClient {
	return &OpenAIClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 120 * time.Second},
		log:  log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// completeJSON runs one chat completion in JSON mode and unmarshals the
// response content into out.
func (c *OpenAIClient) completeJSON(ctx context.Context, model, system, user string, out any) error {
	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0.7,
		ResponseFormat: map[string]any{"type": "json_object"},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("failed to parse chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return fmt.Errorf("chat completion failed: %s", parsed.Error.Message)
		}
		return fmt.Errorf("chat completion failed with status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return fmt.Errorf("chat completion returned no choices")
	}

	content := parsed.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("failed to parse model output: %w", err)
	}
	return nil
}

func (c *OpenAIClient) ExtractWishItems(ctx context.Context, childName, letterText string) ([]*ExtractedWish, error) {
	var out struct {
		Wishes []*ExtractedWish `json:"wishes"`
	}
	user := fmt.Sprintf("Child's name: %s\n\nThe letter:\n%s", childName, letterText)
	if err := c.completeJSON(ctx, c.cfg.Model, extractWishesSystem, user, &out); err != nil {
		return nil, fmt.Errorf("wish extraction failed: %w", err)
	}
	return out.Wishes, nil
}

func (c *OpenAIClient) ClassifyContent(ctx context.Context, childName, letterText, strictness string) ([]*ContentFlag, error) {
	var out struct {
		Flags []*ContentFlag `json:"flags"`
	}
	system := fmt.Sprintf(classifyContentSystem, strictness)
	user := fmt.Sprintf("Child's name: %s\n\nThe letter:\n%s", childName, letterText)
	if err := c.completeJSON(ctx, c.cfg.Model, system, user, &out); err != nil {
		return nil, fmt.Errorf("content classification failed: %w", err)
	}
	return out.Flags, nil
}

func (c *OpenAIClient) GenerateReply(ctx context.Context, rc *ReplyContext) (*GeneratedReply, error) {
	user := buildReplyPrompt(rc)
	var out GeneratedReply
	if err := c.completeJSON(ctx, c.cfg.Model, generateReplySystem, user, &out); err != nil {
		return nil, fmt.Errorf("reply generation failed: %w", err)
	}
	if out.BodyText == "" {
		return nil, fmt.Errorf("reply generation returned an empty body")
	}
	return &out, nil
}

func (c *OpenAIClient) GenerateDeedEmail(ctx context.Context, deedDescription, childName string, congrats bool) (*GeneratedEmail, error) {
	system := deedSuggestSystem
	if congrats {
		system = deedCongratsSystem
	}
	user := fmt.Sprintf("Child's name: %s\nGood deed: %s", childName, deedDescription)
	var out GeneratedEmail
	if err := c.completeJSON(ctx, c.cfg.Model, system, user, &out); err != nil {
		return nil, fmt.Errorf("deed email generation failed: %w", err)
	}
	if out.Subject == "" || out.BodyText == "" {
		return nil, fmt.Errorf("deed email generation returned empty fields")
	}
	return &out, nil
}

func (c *OpenAIClient) CheckEmailSafety(ctx context.Context, content, emailType, childName string) (*SafetyVerdict, error) {
	user := fmt.Sprintf("Email type: %s\nRecipient child: %s\n\nEmail content:\n%s",
		emailType, childName, content)
	var out SafetyVerdict
	if err := c.completeJSON(ctx, c.cfg.SafetyModel, safetyCheckSystem, user, &out); err != nil {
		return nil, fmt.Errorf("safety check failed: %w", err)
	}
	return &out, nil
}

func (c *OpenAIClient) SearchProduct(ctx context.Context, itemName, country string) (*ProductInfo, error) {
	if country == "" {
		country = "US"
	}
	user := fmt.Sprintf("Item: %s\nChild's country: %s", itemName, country)
	var out ProductInfo
	if err := c.completeJSON(ctx, c.cfg.Model, searchProductSystem, user, &out); err != nil {
		return nil, fmt.Errorf("product search failed: %w", err)
	}
	return &out, nil
}
