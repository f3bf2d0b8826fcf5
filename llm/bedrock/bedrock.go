package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/tiagosor/voicechat/llm"
)

const anthropicVersion = "bedrock-2023-05-31"

// fallbackSystemPrompt is used when no prompt file is configured or it
// cannot be read.
const fallbackSystemPrompt = "You are an intelligent conversational assistant. " +
	"Reply to the user's messages naturally, helpfully and concisely. " +
	"Keep a friendly, professional tone."

// invokeModelClient is a local interface that wraps the single method we
// need from bedrockruntime.Client to enable easier testing
type invokeModelClient interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Responder implements the llm.Responder interface on top of the AWS
// Bedrock runtime, invoking an Anthropic Claude model with the messages
// API body.
type Responder struct {
	client       invokeModelClient
	modelID      string
	systemPrompt string
	log          zerolog.Logger
}

// Options configures a Bedrock responder.
type Options struct {
	// ModelID is the Bedrock model identifier to invoke.
	ModelID string

	// SystemPromptFile optionally points at a text file holding the fixed
	// system instruction. A missing or unreadable file falls back to the
	// built-in prompt.
	SystemPromptFile string
}

// NewResponder creates a Bedrock responder using the given runtime client.
func NewResponder(client *bedrockruntime.Client, opts Options, logger zerolog.Logger) *Responder {
	return &Responder{
		client:       client,
		modelID:      opts.ModelID,
		systemPrompt: loadSystemPrompt(opts.SystemPromptFile, logger),
		log:          logger,
	}
}

func loadSystemPrompt(path string, logger zerolog.Logger) string {
	if path == "" {
		return fallbackSystemPrompt
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to load system prompt, using fallback")
		return fallbackSystemPrompt
	}
	return strings.TrimSpace(string(data))
}

// claudeRequest is the Anthropic messages API body accepted by Bedrock.
type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
	Temperature      float64         `json:"temperature"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// GenerateResponse invokes the Claude model with the conversation history
// and the fixed system instruction. Failures come back as *llm.Error.
func (r *Responder) GenerateResponse(ctx context.Context, history []llm.Message) (string, error) {
	messages := make([]claudeMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, claudeMessage{Role: msg.Role, Content: msg.Content})
	}

	body, err := json.Marshal(claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        1000,
		System:           r.systemPrompt,
		Messages:         messages,
		Temperature:      0.7,
	})
	if err != nil {
		return "", &llm.Error{Category: llm.CategoryValidation, Err: err}
	}

	out, err := r.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(r.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		r.log.Error().Err(err).Str("modelId", r.modelID).Msg("bedrock invocation failed")
		return "", classify(err)
	}

	var resp claudeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", &llm.Error{Category: llm.CategoryUnknown, Err: fmt.Errorf("decoding bedrock response: %w", err)}
	}
	if len(resp.Content) == 0 || resp.Content[0].Text == "" {
		return "", &llm.Error{Category: llm.CategoryUnknown, Err: errors.New("empty response from bedrock")}
	}

	return resp.Content[0].Text, nil
}

// CheckConnectivity performs a minimal one-token invocation to verify the
// model is reachable.
func (r *Responder) CheckConnectivity(ctx context.Context) error {
	body, err := json.Marshal(claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        10,
		Messages:         []claudeMessage{{Role: llm.RoleUser, Content: "Hi"}},
		Temperature:      0.1,
	})
	if err != nil {
		return err
	}

	_, err = r.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(r.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("bedrock connectivity check: %w", err)
	}
	return nil
}

// classify maps AWS Bedrock failures onto the llm error taxonomy.
func classify(err error) *llm.Error {
	var (
		accessDenied  *types.AccessDeniedException
		modelNotReady *types.ModelNotReadyException
		throttled     *types.ThrottlingException
		validation    *types.ValidationException
		apiErr        smithy.APIError
		opErr         *smithy.OperationError
	)

	switch {
	case errors.As(err, &accessDenied):
		return &llm.Error{Category: llm.CategoryAccessDenied, Err: err}
	case errors.As(err, &modelNotReady):
		return &llm.Error{Category: llm.CategoryModelNotReady, Err: err}
	case errors.As(err, &throttled):
		return &llm.Error{Category: llm.CategoryRateLimited, Err: err}
	case errors.As(err, &validation):
		return &llm.Error{Category: llm.CategoryValidation, Err: err}
	case errors.As(err, &apiErr):
		// Some other service-side failure; Bedrock was reachable.
		return &llm.Error{Category: llm.CategoryUnknown, Err: err}
	case errors.As(err, &opErr):
		// An operation error with no service response means we never
		// reached Bedrock.
		return &llm.Error{Category: llm.CategoryNetwork, Err: err}
	default:
		return &llm.Error{Category: llm.CategoryUnknown, Err: err}
	}
}
