// Command client is a smoke-test client for the gateway. It opens the SSE
// channel for a (user, app) pair, reads the per-session message endpoint,
// performs the MCP handshake over it, and runs one command.
//
// Usage:
//
//	toolgate-client --server <base-url> --user <id> --app <name> list-tools
//	toolgate-client --server <base-url> --user <id> --app <name> call-tool <tool-name> [--args <json-string>]
//
// Examples:
//
//	toolgate-client --server http://localhost:8001 --user alice --app search_bot list-tools
//	toolgate-client --server http://localhost:8001 --user alice --app search_bot \
//	    --api-key tvly-xxx call-tool web_search --args '{"query":"golang sse"}'
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	serverFlag := flag.String("server", "http://localhost:8001", "Gateway base URL")
	userFlag := flag.String("user", "local", "User id segment of the session path")
	appFlag := flag.String("app", "search_bot", "App name segment of the session path")
	apiKeyFlag := flag.String("api-key", "", "Value for the x-search-api-key header (optional)")
	argsFlag := flag.String("args", "{}", "Tool arguments as JSON string (for call-tool command)")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Error: command is required\n")
		fmt.Fprintf(os.Stderr, "Usage: %s --server <base-url> --user <id> --app <name> <command> [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  list-tools              List available tools\n")
		fmt.Fprintf(os.Stderr, "  call-tool <tool-name>   Call a tool with optional arguments\n")
		os.Exit(1)
	}
	command := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sess, err := openSession(ctx, *serverFlag, *userFlag, *appFlag, *apiKeyFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open session: %v\n", err)
		os.Exit(1)
	}
	defer sess.close()

	if err := sess.handshake(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: handshake failed: %v\n", err)
		os.Exit(1)
	}

	switch command {
	case "list-tools":
		err = listTools(ctx, sess)
	case "call-tool":
		if flag.NArg() < 2 {
			fmt.Fprintf(os.Stderr, "Error: tool name is required for call-tool command\n")
			os.Exit(1)
		}
		err = callTool(ctx, sess, flag.Arg(1), *argsFlag)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n", command)
		fmt.Fprintf(os.Stderr, "Available commands: list-tools, call-tool\n")
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// gatewaySession is one open SSE channel plus its message endpoint.
type gatewaySession struct {
	baseURL    string
	messageURL string
	apiKey     string
	httpClient *http.Client
	stream     *http.Response
	events     chan string
	nextID     int
}

type sseEvent struct {
	name string
	data string
}

func openSession(ctx context.Context, baseURL, user, app, apiKey string) (*gatewaySession, error) {
	sseURL := fmt.Sprintf("%s/%s/%s/sse", strings.TrimRight(baseURL, "/"), user, app)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		req.Header.Set("X-Search-Api-Key", apiKey)
	}

	httpClient := &http.Client{} // no timeout: the stream stays open
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	sess := &gatewaySession{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		stream:     resp,
		events:     make(chan string, 8),
	}
	go sess.pump()

	// The first event on the stream names the message endpoint.
	endpoint, err := sess.next(ctx)
	if err != nil {
		sess.close()
		return nil, fmt.Errorf("no endpoint event: %w", err)
	}
	sess.messageURL = sess.baseURL + endpoint
	return sess, nil
}

// pump parses the SSE stream and forwards event payloads.
func (s *gatewaySession) pump() {
	defer close(s.events)
	scanner := bufio.NewScanner(s.stream.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var ev sseEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if ev.data != "" {
				s.events <- ev.data
			}
			ev = sseEvent{}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func (s *gatewaySession) next(ctx context.Context) (string, error) {
	select {
	case data, ok := <-s.events:
		if !ok {
			return "", fmt.Errorf("stream closed")
		}
		return data, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// post delivers one JSON-RPC message to the session's message endpoint.
func (s *gatewaySession) post(ctx context.Context, message map[string]interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.messageURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-Search-Api-Key", s.apiKey)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// call sends a request and waits for the response with the matching id to
// arrive on the stream.
func (s *gatewaySession) call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	s.nextID++
	id := s.nextID
	message := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
	}
	if params != nil {
		message["params"] = params
	}
	if err := s.post(ctx, message); err != nil {
		return nil, err
	}

	for {
		data, err := s.next(ctx)
		if err != nil {
			return nil, err
		}
		var response map[string]interface{}
		if err := json.Unmarshal([]byte(data), &response); err != nil {
			continue
		}
		if got, ok := response["id"].(float64); !ok || int(got) != id {
			continue
		}
		if rpcErr, ok := response["error"].(map[string]interface{}); ok {
			return nil, fmt.Errorf("rpc error: %v", rpcErr["message"])
		}
		result, _ := response["result"].(map[string]interface{})
		return result, nil
	}
}

func (s *gatewaySession) handshake(ctx context.Context) error {
	_, err := s.call(ctx, "initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"clientInfo": map[string]interface{}{
			"name":    "toolgate-client",
			"version": "1.0.0",
		},
		"capabilities": map[string]interface{}{},
	})
	if err != nil {
		return err
	}
	return s.post(ctx, map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "notifications/initialized",
	})
}

func (s *gatewaySession) close() {
	s.stream.Body.Close()
}

func listTools(ctx context.Context, sess *gatewaySession) error {
	result, err := sess.call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	tools, _ := result["tools"].([]interface{})
	if len(tools) == 0 {
		fmt.Println("No tools available")
		return nil
	}

	fmt.Printf("Available tools (%d):\n\n", len(tools))
	for _, raw := range tools {
		tool, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		fmt.Printf("Name: %v\n", tool["name"])
		if desc, ok := tool["description"].(string); ok && desc != "" {
			fmt.Printf("  Description: %s\n", desc)
		}
		fmt.Println()
	}
	return nil
}

func callTool(ctx context.Context, sess *gatewaySession, toolName, argsJSON string) error {
	var arguments map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &arguments); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}

	result, err := sess.call(ctx, "tools/call", map[string]interface{}{
		"name":      toolName,
		"arguments": arguments,
	})
	if err != nil {
		return fmt.Errorf("failed to call tool: %w", err)
	}

	content, _ := result["content"].([]interface{})
	isError, _ := result["isError"].(bool)
	if isError {
		var errorMsg strings.Builder
		for _, raw := range content {
			if c, ok := raw.(map[string]interface{}); ok {
				if text, ok := c["text"].(string); ok {
					errorMsg.WriteString(text)
				}
			}
		}
		return fmt.Errorf("tool execution failed: %s", errorMsg.String())
	}

	if len(content) == 0 {
		fmt.Println("Tool executed successfully (no output)")
		return nil
	}
	for _, raw := range content {
		c, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		switch c["type"] {
		case "text":
			fmt.Println(c["text"])
		case "image":
			fmt.Printf("Image: mime=%v, %d base64 bytes\n", c["mimeType"], len(fmt.Sprint(c["data"])))
		default:
			if jsonBytes, err := json.MarshalIndent(c, "", "  "); err == nil {
				fmt.Println(string(jsonBytes))
			}
		}
	}
	return nil
}
