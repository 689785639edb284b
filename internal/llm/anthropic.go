package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/executive-assistant/ken/internal/config"
	"github.com/executive-assistant/ken/internal/domain"
	"github.com/executive-assistant/ken/internal/errs"
	"github.com/executive-assistant/ken/internal/reasoning"
	"github.com/executive-assistant/ken/internal/tool"
)

// messagesAPI captures the subset of anthropic.Client used here, so tests
// can substitute a fake without hitting the network (mirrors goa-ai's
// anthropic.MessagesClient seam).
type messagesAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// anthropicClient implements reasoning.ModelClient against Claude's
// Messages API.
type anthropicClient struct {
	msg          messagesAPI
	provider     string
	model        string
	systemPrompt string
	tools        []tool.Definition
	maxTokens    int
	temperature  float64
}

func newAnthropicClient(provider string, p config.LLMProviderConfig, model, systemPrompt string, tools []tool.Definition) (*anthropicClient, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("llm: anthropic provider missing api_key")
	}
	c := anthropic.NewClient(anthropicClientOptions(p)...)
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &anthropicClient{
		msg:          &c.Messages,
		provider:     provider,
		model:        model,
		systemPrompt: systemPrompt,
		tools:        tools,
		maxTokens:    maxTokens,
		temperature:  p.Temperature,
	}, nil
}

// Complete implements reasoning.ModelClient.
func (c *anthropicClient) Complete(ctx context.Context, state *reasoning.AgentState) (reasoning.ModelCompletion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages:  encodeAnthropicMessages(state.Messages()),
	}
	if prompt := effectiveSystemPrompt(c.systemPrompt, state); prompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: prompt}}
	}
	if c.temperature > 0 {
		params.Temperature = anthropic.Float(c.temperature)
	}
	if tools := encodeAnthropicTools(c.tools); len(tools) > 0 {
		params.Tools = tools
	}

	resp, err := c.msg.New(ctx, params)
	if err != nil {
		return reasoning.ModelCompletion{}, errs.LLM("llm", "Complete", c.provider, err.Error(), err)
	}
	return decodeAnthropicResponse(resp), nil
}

func encodeAnthropicMessages(msgs []domain.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case "tool":
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		case "system":
			// system messages ride in params.System, not the conversation.
		}
	}
	return out
}

func encodeAnthropicTools(defs []tool.Definition) []anthropic.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema := anthropic.ToolInputSchemaParam{ExtraFields: def.Parameters}
		u := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = anthropic.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func decodeAnthropicResponse(msg *anthropic.Message) reasoning.ModelCompletion {
	var out reasoning.ModelCompletion
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &args)
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return out
}
