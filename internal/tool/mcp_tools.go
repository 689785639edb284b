package tool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPServerConfig describes one external MCP server to mount as tools,
// grounded on the teacher's pkg/tool/mcptoolset.Config.
type MCPServerConfig struct {
	Name       string
	URL        string // for http/sse transport
	Transport  string // "stdio", "sse", "streamable-http"
	Command    string // for stdio transport
	Args       []string
	Env        map[string]string
	Filter     []string // tool names to expose; empty means all
	SSETimeout time.Duration
}

// mcpConnector connects to one MCP server and exposes its tools
// as Registry entries, grounded on the teacher's
// pkg/tool/mcptoolset.Toolset (stdio via mcp-go, HTTP via hand-rolled
// JSON-RPC since the teacher's internal httpclient retry wrapper isn't
// carried into this module).
type mcpConnector struct {
	cfg MCPServerConfig

	mu        sync.Mutex
	stdio     *client.Client
	http      *http.Client
	sessionID string
	connected bool
}

// RegisterMCPTools connects to each configured MCP server and registers
// its (optionally filtered) tools under their MCP-reported names.
// Connection happens eagerly here (unlike the teacher's lazy-on-first-Call
// toolset) so dispatch-time failures are startup failures instead.
func RegisterMCPTools(r *Registry, servers []MCPServerConfig) error {
	for _, cfg := range servers {
		if cfg.URL == "" && cfg.Command == "" {
			return fmt.Errorf("mcp server %q: either url or command is required", cfg.Name)
		}
		if cfg.SSETimeout == 0 {
			cfg.SSETimeout = 5 * time.Minute
		}
		conn := &mcpConnector{cfg: cfg}
		tools, err := conn.connectAndList(context.Background())
		if err != nil {
			return fmt.Errorf("mcp server %q: %w", cfg.Name, err)
		}
		for _, t := range tools {
			if err := r.Register(t.Name, t); err != nil {
				return fmt.Errorf("mcp server %q: register tool %q: %w", cfg.Name, t.Name, err)
			}
		}
		slog.Info("mounted MCP server", "name", cfg.Name, "tools", len(tools))
	}
	return nil
}

func (c *mcpConnector) connectAndList(ctx context.Context) ([]Tool, error) {
	if c.cfg.Command != "" || c.cfg.Transport == "stdio" {
		return c.connectStdio(ctx)
	}
	return c.connectHTTP(ctx)
}

func filterAllows(filter []string, name string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}

func (c *mcpConnector) connectStdio(ctx context.Context) ([]Tool, error) {
	env := make([]string, 0, len(c.cfg.Env))
	for k, v := range c.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(c.cfg.Command, env, c.cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("create mcp client: %w", err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("start mcp client: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "ken", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("initialize mcp: %w", err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}

	c.mu.Lock()
	c.stdio = mcpClient
	c.connected = true
	c.mu.Unlock()

	var tools []Tool
	for _, mt := range listResp.Tools {
		if !filterAllows(c.cfg.Filter, mt.Name) {
			continue
		}
		tools = append(tools, c.wrap(mt.Name, mt.Description, convertMCPSchema(mt.InputSchema), true))
	}
	return tools, nil
}

func (c *mcpConnector) connectHTTP(ctx context.Context) ([]Tool, error) {
	c.mu.Lock()
	c.http = &http.Client{Timeout: 30 * time.Second}
	c.mu.Unlock()

	initResp, err := c.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "ken", "version": "1.0.0"},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize mcp: %w", err)
	}
	if initResp.Error != nil {
		return nil, fmt.Errorf("mcp init error: %s", initResp.Error.Message)
	}

	listResp, err := c.rpc(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}
	if listResp.Error != nil {
		return nil, fmt.Errorf("mcp list error: %s", listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from tools/list")
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return nil, fmt.Errorf("missing tools in tools/list response")
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	var tools []Tool
	for _, raw := range toolsList {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		desc, _ := m["description"].(string)
		if !filterAllows(c.cfg.Filter, name) {
			continue
		}
		schema, _ := m["inputSchema"].(map[string]any)
		tools = append(tools, c.wrap(name, desc, schema, false))
	}
	return tools, nil
}

func (c *mcpConnector) wrap(name, description string, schema map[string]any, stdio bool) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		Handler: func(cc CallContext, args map[string]any) (string, error) {
			if stdio {
				return c.callStdio(cc.Context, name, args)
			}
			return c.callHTTP(cc.Context, name, args)
		},
	}
}

func (c *mcpConnector) callStdio(ctx context.Context, name string, args map[string]any) (string, error) {
	c.mu.Lock()
	mcpClient := c.stdio
	c.mu.Unlock()
	if mcpClient == nil {
		return "", fmt.Errorf("mcp client not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("mcp call failed: %w", err)
	}
	if resp.IsError {
		for _, content := range resp.Content {
			if tc, ok := content.(mcp.TextContent); ok {
				return "", fmt.Errorf("%s", tc.Text)
			}
		}
		return "", fmt.Errorf("unknown mcp tool error")
	}
	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

func (c *mcpConnector) callHTTP(ctx context.Context, name string, args map[string]any) (string, error) {
	resp, err := c.rpc(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return "", fmt.Errorf("mcp call failed: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%s", resp.Error.Message)
	}
	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		return fmt.Sprintf("%v", resp.Result), nil
	}
	if isErr, _ := resultMap["isError"].(bool); isErr {
		return "", fmt.Errorf("%s", extractFirstText(resultMap))
	}
	return extractFirstText(resultMap), nil
}

func extractFirstText(resultMap map[string]any) string {
	content, ok := resultMap["content"].([]any)
	if !ok {
		return ""
	}
	var texts []string
	for _, c := range content {
		cm, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := cm["text"].(string); ok {
			texts = append(texts, text)
		}
	}
	return strings.Join(texts, "\n")
}

type mcpRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type mcpRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *mcpRPCError  `json:"error,omitempty"`
}

type mcpRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *mcpConnector) rpc(ctx context.Context, method string, params any) (*mcpRPCResponse, error) {
	body, err := json.Marshal(mcpRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	c.mu.Lock()
	if c.sessionID != "" {
		req.Header.Set("mcp-session-id", c.sessionID)
	}
	httpClient := c.http
	c.mu.Unlock()

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get("mcp-session-id"); sid != "" {
		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()
	}

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("http error %d: %s", resp.StatusCode, string(b))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return readMCPSSEResponse(resp, c.cfg.SSETimeout)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out mcpRPCResponse
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &out, nil
}

func readMCPSSEResponse(resp *http.Response, timeout time.Duration) (*mcpRPCResponse, error) {
	type result struct {
		response *mcpRPCResponse
		err      error
	}
	ch := make(chan result, 1)

	go func() {
		defer resp.Body.Close()
		reader := bufio.NewReader(resp.Body)
		var data strings.Builder
		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				break
			}
			s := strings.TrimSpace(string(line))
			if s == "" {
				if data.Len() > 0 {
					var out mcpRPCResponse
					if err := json.Unmarshal([]byte(data.String()), &out); err == nil {
						ch <- result{response: &out}
						return
					}
					data.Reset()
				}
				continue
			}
			if strings.HasPrefix(s, "data:") {
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(s, "data:")))
			}
		}
		ch <- result{err: fmt.Errorf("SSE stream ended without complete message")}
	}()

	select {
	case r := <-ch:
		return r.response, r.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("timeout reading SSE response after %v", timeout)
	}
}

func convertMCPSchema(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
