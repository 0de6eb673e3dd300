// Package intent maps raw SMS text onto typed pipeline commands.
package intent

import (
	"strings"

	"github.com/civictext/permitbot/internal/pipeline"
)

const notesSeparator = "notes:"

// Parse maps one inbound SMS body to a Command. It is total and
// deterministic: unparseable input yields Unknown, never an error.
// Keywords are matched case-insensitively in a fixed priority order:
// HELP, STATUS, LIST, FEES, INSPECT.
func Parse(text string) pipeline.Command {
	trimmed := strings.TrimSpace(text)
	upper := strings.ToUpper(trimmed)

	switch {
	case upper == "HELP":
		return pipeline.Command{Type: pipeline.CommandHelp}
	case strings.HasPrefix(upper, "STATUS"):
		if cmd, ok := parseStatus(trimmed); ok {
			return cmd
		}
	case strings.HasPrefix(upper, "LIST"):
		if cmd, ok := parseList(trimmed); ok {
			return cmd
		}
	case upper == "FEES":
		return pipeline.Command{Type: pipeline.CommandFees}
	case strings.HasPrefix(upper, "INSPECT"):
		if cmd, ok := parseInspect(trimmed); ok {
			return cmd
		}
	}

	return pipeline.Command{Type: pipeline.CommandUnknown, OriginalText: text}
}

func parseStatus(text string) (pipeline.Command, bool) {
	rest, ok := afterKeyword(text, "STATUS")
	if !ok || rest == "" {
		return pipeline.Command{}, false
	}
	return pipeline.Command{Type: pipeline.CommandStatus, Query: rest}, true
}

// parseList accepts a bare LIST or LIST OPEN with any amount of
// whitespace between the tokens. Both forms mean the open filter.
func parseList(text string) (pipeline.Command, bool) {
	rest, ok := afterKeyword(text, "LIST")
	if !ok {
		return pipeline.Command{}, false
	}
	if rest != "" && !strings.EqualFold(rest, "OPEN") {
		return pipeline.Command{}, false
	}
	return pipeline.Command{Type: pipeline.CommandList, Filter: pipeline.ListFilterOpen}, true
}

// afterKeyword returns the trimmed remainder following the keyword,
// requiring a word boundary so "STATUSFOO" does not match STATUS.
func afterKeyword(text, keyword string) (string, bool) {
	rest := text[len(keyword):]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// parseInspect splits "INSPECT <permit> <window...> notes: <text>".
// Everything before the notes: separator must hold at least a permit
// number and one time-window token; notes may be empty.
func parseInspect(text string) (pipeline.Command, bool) {
	rest, ok := afterKeyword(text, "INSPECT")
	if !ok {
		return pipeline.Command{}, false
	}

	head := rest
	notes := ""
	if idx := strings.Index(strings.ToLower(rest), notesSeparator); idx >= 0 {
		head = strings.TrimSpace(rest[:idx])
		notes = strings.TrimSpace(rest[idx+len(notesSeparator):])
	}

	tokens := strings.Fields(head)
	if len(tokens) < 2 {
		return pipeline.Command{}, false
	}

	return pipeline.Command{
		Type:         pipeline.CommandInspect,
		PermitNumber: tokens[0],
		TimeWindow:   strings.Join(tokens[1:], " "),
		Notes:        notes,
	}, true
}
