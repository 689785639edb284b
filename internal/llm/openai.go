package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/executive-assistant/ken/internal/config"
	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/errs"
	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/tool"
)

// chatAPI captures the subset of openai.Client.Chat.Completions used here,
// mirroring goa-ai's ChatClient seam so tests can substitute a fake.
type chatAPI interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)
}

// openaiClient implements reasoning.ModelClient against the Chat
// Completions API.
type openaiClient struct {
	chat         chatAPI
	provider     string
	model        string
	systemPrompt string
	tools        []tool.Definition
	maxTokens    int
	temperature  float64
}

func newOpenAIClient(provider string, p config.LLMProviderConfig, model, systemPrompt string, tools []tool.Definition) (*openaiClient, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("llm: openai provider missing api_key")
	}
	c := openai.NewClient(openaiClientOptions(p)...)
	return &openaiClient{
		chat:         &chatCompletionsAdapter{&c.Chat.Completions},
		provider:     provider,
		model:        model,
		systemPrompt: systemPrompt,
		tools:        tools,
		maxTokens:    p.MaxTokens,
		temperature:  p.Temperature,
	}, nil
}

// chatCompletionsAdapter narrows *openai.ChatCompletionService to chatAPI.
type chatCompletionsAdapter struct {
	svc *openai.ChatCompletionService
}

func (a *chatCompletionsAdapter) New(ctx context.Context, body openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return a.svc.New(ctx, body)
}

// Complete implements reasoning.ModelClient.
func (c *openaiClient) Complete(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(state.Messages())+1)
	if prompt := effectiveSystemPrompt(c.systemPrompt, state); prompt != "" {
		messages = append(messages, openai.SystemMessage(prompt))
	}
	messages = append(messages, encodeOpenAIMessages(state.Messages())...)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(c.temperature)
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}
	if tools := encodeOpenAITools(c.tools); len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return reasoning.ModelCompletion{}, errs.LLM("llm", "Complete", c.provider, err.Error(), err)
	}
	return decodeOpenAIResponse(resp), nil
}

func encodeOpenAIMessages(msgs []domain.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			out = append(out, openai.UserMessage(m.Content))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		}
	}
	return out
}

func encodeOpenAITools(defs []tool.Definition) []openai.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(def.Parameters),
			},
		})
	}
	return out
}

func decodeOpenAIResponse(resp *openai.ChatCompletion) reasoning.ModelCompletion {
	var out reasoning.ModelCompletion
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	out.Text = msg.Content
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out
}
