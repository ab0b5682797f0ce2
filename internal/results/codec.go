package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

const CurrentSchemaVersion = 1

var ErrVersionMismatch = errors.New("results: record version mismatch")

// EncodeRun serializes run, stamping the current schema version.
func EncodeRun(run Run) ([]byte, error) {
	run.SchemaVersion = CurrentSchemaVersion
	return json.Marshal(run)
}

// DecodeRun parses a persisted run and rejects foreign schema versions.
func DecodeRun(data []byte) (Run, error) {
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return Run{}, err
	}
	if run.SchemaVersion != CurrentSchemaVersion {
		return Run{}, fmt.Errorf("%w: schema %d", ErrVersionMismatch, run.SchemaVersion)
	}
	return run, nil
}

type wireSnapshot struct {
	Values map[string][]any            `json:"values"`
	Groups map[string]map[string][]any `json:"groups,omitempty"`
}

// MarshalJSON writes non-finite values as strings so anomalous histories
// survive persistence.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	wire := wireSnapshot{Values: encodeSeries(s.Values)}
	if len(s.Groups) > 0 {
		wire.Groups = make(map[string]map[string][]any, len(s.Groups))
		for name, g := range s.Groups {
			wire.Groups[name] = encodeSeries(g)
		}
	}
	return json.Marshal(wire)
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var wire wireSnapshot
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	values, err := decodeSeries(wire.Values)
	if err != nil {
		return err
	}
	out := Snapshot{Values: values}
	if len(wire.Groups) > 0 {
		out.Groups = make(map[string]map[string][]float64, len(wire.Groups))
		for name, g := range wire.Groups {
			decoded, err := decodeSeries(g)
			if err != nil {
				return fmt.Errorf("group %s: %w", name, err)
			}
			out.Groups[name] = decoded
		}
	}
	*s = out
	return nil
}

func encodeSeries(in map[string][]float64) map[string][]any {
	out := make(map[string][]any, len(in))
	for k, history := range in {
		values := make([]any, len(history))
		for i, v := range history {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				values[i] = strconv.FormatFloat(v, 'g', -1, 64)
				continue
			}
			values[i] = v
		}
		out[k] = values
	}
	return out
}

func decodeSeries(in map[string][]any) (map[string][]float64, error) {
	out := make(map[string][]float64, len(in))
	for k, values := range in {
		history := make([]float64, len(values))
		for i, raw := range values {
			switch v := raw.(type) {
			case float64:
				history[i] = v
			case string:
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", k, i, err)
				}
				history[i] = f
			default:
				return nil, fmt.Errorf("%s[%d]: unexpected %T", k, i, raw)
			}
		}
		out[k] = history
	}
	return out, nil
}
