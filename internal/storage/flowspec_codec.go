package storage

import (
	"encoding/json"

	"github.com/executive-assistant/ken/internal/domain"
)

// encodeFlowSpec/decodeFlowSpec serialize a FlowSpec to the JSON column
// used by both relational backends (flow_spec / JSONB).
func encodeFlowSpec(spec domain.FlowSpec) (string, error) {
	b, err := json.Marshal(spec)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeFlowSpec(raw string) (domain.FlowSpec, error) {
	var spec domain.FlowSpec
	if raw == "" {
		return spec, nil
	}
	err := json.Unmarshal([]byte(raw), &spec)
	return spec, err
}
