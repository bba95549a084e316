package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiClient is the default, real LLM transport: a thin adapter from the
// package's provider-agnostic Message/ToolCall types onto
// google.golang.org/genai, mirroring how hector wires its own concrete
// provider behind the LLMProvider interface (pkg/llms/gemini.go), but using
// the official SDK instead of a hand-rolled HTTP client.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
}

// NewGeminiClient builds a Client backed by the Gemini API.
func NewGeminiClient(ctx context.Context, cfg ProviderConfig) (Client, error) {
	cfg.SetDefaults()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (c *GeminiClient) ModelName() string { return c.model }

func (c *GeminiClient) Close() error { return nil }

// Generate sends messages plus tool declarations to Gemini and translates
// the response back into the provider-agnostic Response shape.
func (c *GeminiClient) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error) {
	contents, systemInstruction := toGenaiContents(messages)

	temp := float32(c.temperature)
	config := &genai.GenerateContentConfig{
		Temperature:       &temp,
		MaxOutputTokens:   int32(c.maxTokens),
		SystemInstruction: systemInstruction,
	}
	if len(tools) > 0 {
		config.Tools = []*genai.Tool{toGenaiTool(tools)}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return Response{}, fmt.Errorf("llm: generate: %w", err)
	}
	if len(result.Candidates) == 0 {
		return Response{}, fmt.Errorf("llm: generate: no candidates returned")
	}

	resp := Response{}
	if result.UsageMetadata != nil {
		resp.TokensUsed = int(result.UsageMetadata.TotalTokenCount)
	}

	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			resp.Content += part.Text
		}
		if part.FunctionCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}
	return resp, nil
}

func toGenaiContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var systemInstruction *genai.Content
	var contents []*genai.Content

	for _, m := range messages {
		if m.Role == "system" {
			systemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
			continue
		}
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		if m.Content != "" {
			contents = append(contents, genai.NewContentFromText(m.Content, role))
		}
		for _, tc := range m.ToolCalls {
			contents = append(contents, &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: tc.Arguments},
				}},
			})
		}
		if m.Role == "tool" {
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     m.Name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
		}
	}
	return contents, systemInstruction
}

func toGenaiTool(tools []ToolDefinition) *genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schemaFromParameters(t.Parameters),
		})
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

// schemaFromParameters converts the JSON-Schema-shaped map already produced
// by internal/tool's jsonschema generation into genai's Schema type.
func schemaFromParameters(params map[string]interface{}) *genai.Schema {
	if params == nil {
		return nil
	}
	schema := &genai.Schema{Type: genai.TypeObject}
	if props, ok := params["properties"].(map[string]interface{}); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if p, ok := raw.(map[string]interface{}); ok {
				schema.Properties[name] = &genai.Schema{
					Type:        genaiTypeFromJSONSchema(p["type"]),
					Description: stringOr(p["description"]),
				}
			}
		}
	}
	if required, ok := params["required"].([]string); ok {
		schema.Required = required
	}
	return schema
}

func genaiTypeFromJSONSchema(t interface{}) genai.Type {
	s, _ := t.(string)
	switch s {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func stringOr(v interface{}) string {
	s, _ := v.(string)
	return s
}
