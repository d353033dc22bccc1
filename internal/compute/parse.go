package compute

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	lineComment   = regexp.MustCompile(`(?m)//[^\n"]*$`)
	blockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
)

// ErrNoJSON is returned when model text has no object in it at all.
var ErrNoJSON = errors.New("model did not return JSON")

// ParseModelJSON salvages a JSON object from model output. The widest {...}
// block is decoded as is, then again with comments and trailing commas removed,
// and finally after a jsonrepair pass.
func ParseModelJSON(text string) (map[string]any, error) {
	block, ok := widestObject(text)
	if !ok {
		return nil, ErrNoJSON
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(block), &out); err == nil {
		return out, nil
	}

	cleaned := blockComment.ReplaceAllString(block, "")
	cleaned = lineComment.ReplaceAllString(cleaned, "")
	cleaned = trailingComma.ReplaceAllString(cleaned, "$1")
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return nil, fmt.Errorf("repair model JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("decode repaired model JSON: %w", err)
	}
	return out, nil
}

func widestObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}
	end := strings.LastIndex(text, "}")
	if end < start {
		// unterminated object, the repair pass closes it
		return text[start:], true
	}
	return text[start : end+1], true
}
