package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const defaultConfidence = 0.5

const schemaInstructions = `
Reply with a single JSON object and nothing else:
{"agents": ["<id>", ...], "is_targeted": true|false, "reasoning": "<one sentence>", "confidence": <0..1>}
`

// classifierReply is the only accepted reply shape. Unknown fields and
// trailing text are rejected.
type classifierReply struct {
	Agents     []string `json:"agents"`
	IsTargeted *bool    `json:"is_targeted,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func (r classifierReply) confidence() float64 {
	if r.Confidence == nil {
		return defaultConfidence
	}
	return *r.Confidence
}

// parseReply validates a model reply against the routing schema. One
// surrounding markdown code fence is tolerated.
func parseReply(reply string) (classifierReply, error) {
	body, err := stripFence(reply)
	if err != nil {
		return classifierReply{}, err
	}

	var raw map[string]json.RawMessage
	if err := decodeStrict([]byte(body), &raw); err != nil {
		return classifierReply{}, err
	}
	agents, ok := raw["agents"]
	if !ok || string(bytes.TrimSpace(agents)) == "null" {
		return classifierReply{}, fmt.Errorf("%w: missing \"agents\"", ErrSchema)
	}

	var out classifierReply
	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return classifierReply{}, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	for i, id := range out.Agents {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			return classifierReply{}, fmt.Errorf("%w: empty agent id", ErrSchema)
		}
		out.Agents[i] = id
	}
	if out.Confidence != nil && (*out.Confidence < 0 || *out.Confidence > 1) {
		return classifierReply{}, fmt.Errorf("%w: confidence %v outside [0,1]", ErrSchema, *out.Confidence)
	}
	return out, nil
}

func stripFence(reply string) (string, error) {
	s := strings.TrimSpace(reply)
	if !strings.HasPrefix(s, "```") {
		return s, nil
	}
	nl := strings.IndexByte(s, '\n')
	if nl < 0 || !strings.HasSuffix(s, "```") || len(s) < nl+4 {
		return "", fmt.Errorf("%w: unterminated code fence", ErrSchema)
	}
	lang := strings.TrimSpace(s[3:nl])
	if lang != "" && lang != "json" {
		return "", fmt.Errorf("%w: unexpected fence language %q", ErrSchema, lang)
	}
	inner := strings.TrimSpace(s[nl+1 : len(s)-3])
	if strings.Contains(inner, "```") {
		return "", fmt.Errorf("%w: nested code fence", ErrSchema)
	}
	return inner, nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing content after JSON object", ErrSchema)
	}
	return nil
}
