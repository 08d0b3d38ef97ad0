// Builtin tools for the chat service.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DefaultFetchTimeout bounds http_fetch requests, in seconds.
const DefaultFetchTimeout = 15

// maxFetchBytes caps how much of a fetched body is returned.
const maxFetchBytes = 64 * 1024

// CurrentTimeTool reports the current time, optionally in a named
// IANA time zone.
type CurrentTimeTool struct {
	BaseTool
}

// NewCurrentTimeTool creates the current_time tool.
func NewCurrentTimeTool() *CurrentTimeTool {
	return &CurrentTimeTool{}
}

// Metadata returns tool metadata.
func (t *CurrentTimeTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "current_time",
		Description: "Returns the current date and time, optionally in a specific IANA time zone",
		Parameters: []ToolParameter{
			{Name: "timezone", ParamType: "string", Description: "IANA time zone name, e.g. Europe/Berlin", Required: false},
		},
	}
}

// Execute runs the tool.
func (t *CurrentTimeTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var input struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return FailureResultf("invalid arguments: %v", err), nil
		}
	}

	loc := time.Local
	if input.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(input.Timezone)
		if err != nil {
			return FailureResultf("unknown timezone %q", input.Timezone), nil
		}
	}
	return SuccessResult(time.Now().In(loc).Format(time.RFC1123)), nil
}

// CalculatorTool evaluates basic arithmetic expressions.
type CalculatorTool struct {
	BaseTool
}

// NewCalculatorTool creates the calculator tool.
func NewCalculatorTool() *CalculatorTool {
	return &CalculatorTool{}
}

// Metadata returns tool metadata.
func (t *CalculatorTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "calculator",
		Description: "Evaluates an arithmetic expression with +, -, *, /, and parentheses",
		Parameters: []ToolParameter{
			{Name: "expression", ParamType: "string", Description: "Expression to evaluate, e.g. (2+3)*4", Required: true},
		},
	}
}

// Execute runs the tool.
func (t *CalculatorTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var input struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return FailureResultf("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(input.Expression) == "" {
		return FailureResultf("validation: expression is empty"), nil
	}

	result, err := evalExpression(input.Expression)
	if err != nil {
		return FailureResult(err), nil
	}
	return SuccessResult(strconv.FormatFloat(result, 'g', -1, 64)), nil
}

// evalExpression is a small recursive-descent evaluator over
// + - * / and parentheses.
func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: expr}
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.input) {
			return left, nil
		}
		op := p.input[p.pos]
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.parseAtom()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		}
	}
}

func (p *exprParser) parseAtom() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}

	if p.input[p.pos] == '(' {
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	start := p.pos
	if p.pos < len(p.input) && (p.input[p.pos] == '-' || p.input[p.pos] == '+') {
		p.pos++
	}
	for p.pos < len(p.input) && (unicode.IsDigit(rune(p.input[p.pos])) || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return v, nil
}

// HTTPFetchTool fetches a URL and returns the response body.
type HTTPFetchTool struct {
	BaseTool
	client *http.Client
}

// NewHTTPFetchTool creates the http_fetch tool with the given timeout
// in seconds.
func NewHTTPFetchTool(timeoutSecs int) *HTTPFetchTool {
	return &HTTPFetchTool{
		client: &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second},
	}
}

// Metadata returns tool metadata.
func (t *HTTPFetchTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "http_fetch",
		Description: "Fetches a URL over HTTP GET and returns the response body (truncated to 64KB)",
		Parameters: []ToolParameter{
			{Name: "url", ParamType: "string", Description: "URL to fetch (http or https)", Required: true},
		},
	}
}

// Validate checks the URL scheme before execution.
func (t *HTTPFetchTool) Validate(args json.RawMessage) error {
	var input struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if !strings.HasPrefix(input.URL, "http://") && !strings.HasPrefix(input.URL, "https://") {
		return fmt.Errorf("validation: url must start with http:// or https://")
	}
	return nil
}

// Execute runs the tool.
func (t *HTTPFetchTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	if err := t.Validate(args); err != nil {
		return FailureResult(err), nil
	}

	var input struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return FailureResultf("invalid arguments: %v", err), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, input.URL, nil)
	if err != nil {
		return FailureResultf("invalid request: %v", err), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return FailureResultf("fetch failed: %v", err), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return FailureResultf("read failed: %v", err), nil
	}

	if resp.StatusCode >= 400 {
		return FailureResultf("HTTP %d: %s", resp.StatusCode, truncateBody(string(body))), nil
	}
	return SuccessResult(string(body)), nil
}

func truncateBody(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}

// Verify builtin tools implement Tool
var _ Tool = (*CurrentTimeTool)(nil)
var _ Tool = (*CalculatorTool)(nil)
var _ Tool = (*HTTPFetchTool)(nil)
