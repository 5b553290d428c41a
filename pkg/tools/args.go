package tools

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// parseArguments decodes a raw tool argument payload.
//
// Strict JSON parsing comes first. Models occasionally emit near-JSON with
// stray characters; when the tool takes a single required string field, a
// lenient regex pass salvages that field from the raw payload before the
// call is rejected.
func parseArguments(raw string, fallbackField string) (map[string]interface{}, error) {
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err == nil && args != nil {
		return args, nil
	}

	if fallbackField != "" {
		re := regexp.MustCompile(`"` + regexp.QuoteMeta(fallbackField) + `"\s*:\s*"([^"]+)"`)
		if m := re.FindStringSubmatch(raw); m != nil {
			return map[string]interface{}{fallbackField: m[1]}, nil
		}
	}

	return nil, fmt.Errorf("unparseable tool arguments: %q", raw)
}
