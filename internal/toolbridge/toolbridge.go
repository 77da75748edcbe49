// Package toolbridge recovers structured function calls that the upstream
// model expressed as plain text markup instead of native tool-use blocks.
// Recovery is best effort: malformed syntax degrades to plain assistant
// text, never to a failed request.
package toolbridge

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/foundryproxy/foundry-gateway/internal/domain"
)

var (
	attrTagPattern   = regexp.MustCompile(`(?is)<(\w+)>\s*(.*?)\s*</\w+>`)
	callBlockPattern = regexp.MustCompile(`(?is)<tool_call>(.*?)</tool_call>`)
)

// Extract scans text for tool invocations in three passes, each operating on
// the remainder of the previous: attribute-tag form, <tool_call> JSON
// blocks, then a tool_use list-literal fallback when nothing else matched.
// It returns the recovered calls and the remaining text trimmed of
// surrounding whitespace.
func Extract(text string, toolNames []string) ([]domain.ToolCall, string) {
	available := make(map[string]bool, len(toolNames))
	for _, name := range toolNames {
		if name != "" {
			available[name] = true
		}
	}

	var calls []domain.ToolCall
	remaining := text

	addCall := func(name string, args map[string]any) {
		args = normalizeArgs(name, args)
		encoded, err := json.Marshal(args)
		if err != nil {
			return
		}
		calls = append(calls, domain.ToolCall{
			ID:   "call_" + name + "_" + strconv.Itoa(len(calls)+1),
			Type: "function",
			Function: domain.FunctionCall{
				Name:      name,
				Arguments: string(encoded),
			},
		})
	}

	remaining = extractAttributeTags(remaining, available, addCall)
	remaining = extractCallBlocks(remaining, available, addCall)
	if len(calls) == 0 {
		remaining = extractToolUseList(remaining, available, addCall, &calls)
	}

	return calls, strings.TrimSpace(remaining)
}

// extractAttributeTags handles <toolname><field>value</field></toolname>
// spans for declared tool names. Spans are consumed in the order they appear
// in the text, so call IDs across different tools mirror textual order.
// Stray open or close tags for a recognized name are stripped even when no
// parseable body was found.
func extractAttributeTags(text string, available map[string]bool, addCall func(string, map[string]any)) string {
	spanPatterns := make(map[string]*regexp.Regexp, len(available))
	for name := range available {
		quoted := regexp.QuoteMeta(name)
		p, err := regexp.Compile(`(?is)<` + quoted + `>(.*?)</` + quoted + `>`)
		if err != nil {
			continue
		}
		spanPatterns[name] = p
	}

	for {
		bestName := ""
		var bestLoc []int
		for name, p := range spanPatterns {
			loc := p.FindStringSubmatchIndex(text)
			if loc == nil {
				continue
			}
			if bestLoc == nil || loc[0] < bestLoc[0] {
				bestName, bestLoc = name, loc
			}
		}
		if bestLoc == nil {
			break
		}

		args := make(map[string]any)
		for _, field := range attrTagPattern.FindAllStringSubmatch(text[bestLoc[2]:bestLoc[3]], -1) {
			if value := strings.TrimSpace(field[2]); value != "" {
				args[strings.ToLower(field[1])] = value
			}
		}
		if len(args) > 0 {
			addCall(bestName, args)
		}
		text = text[:bestLoc[0]] + text[bestLoc[1]:]
	}

	for name := range spanPatterns {
		strayPattern, err := regexp.Compile(`(?i)</?` + regexp.QuoteMeta(name) + `>`)
		if err != nil {
			continue
		}
		text = strayPattern.ReplaceAllString(text, "")
	}
	return text
}

// extractCallBlocks handles <tool_call>{json}</tool_call> blocks. Malformed
// JSON bodies are skipped silently, but every matched block is stripped from
// the remainder.
func extractCallBlocks(text string, available map[string]bool, addCall func(string, map[string]any)) string {
	matches := callBlockPattern.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		var payload struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &payload); err != nil {
			continue
		}
		if !available[payload.Name] || payload.Arguments == nil {
			continue
		}
		addCall(payload.Name, payload.Arguments)
	}
	if len(matches) > 0 {
		text = callBlockPattern.ReplaceAllString(text, "")
	}
	return text
}

// extractToolUseList handles the fallback where the whole response is a list
// literal of {"type": "tool_use", "name": ..., "input": {...}} items. Single
// quoted variants are tolerated. Any parse failure abandons the whole pass.
func extractToolUseList(text string, available map[string]bool, addCall func(string, map[string]any), calls *[]domain.ToolCall) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "[") || !strings.Contains(trimmed, "tool_use") {
		return text
	}

	var items []map[string]any
	if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
		relaxed := strings.ReplaceAll(trimmed, "'", `"`)
		if err := json.Unmarshal([]byte(relaxed), &items); err != nil {
			return text
		}
	}

	for _, item := range items {
		if item["type"] != "tool_use" {
			continue
		}
		name, _ := item["name"].(string)
		input, _ := item["input"].(map[string]any)
		if !available[name] || input == nil {
			continue
		}
		addCall(name, input)
	}
	if len(*calls) > 0 {
		return ""
	}
	return text
}

// normalizeArgs maps the read_file tool's path/uri argument spellings onto
// the single canonical uri field.
func normalizeArgs(name string, args map[string]any) map[string]any {
	if name != "read_file" {
		return args
	}
	value := args["path"]
	if value == nil || value == "" {
		value = args["uri"]
	}
	if s, ok := value.(string); ok && s != "" {
		return map[string]any{"uri": s}
	}
	return args
}
