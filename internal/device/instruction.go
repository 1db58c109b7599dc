package device

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// instructionKey is the field naming the instruction in object payloads.
const instructionKey = "instruction"

// Instruction is one normalised instruction.
//
// Object payloads set Name and Args. Bare string payloads set Name only.
// Any other bare value (typically a number) is kept in Value.
type Instruction struct {
	Name  string
	Args  map[string]json.RawMessage
	Value json.RawMessage
}

// Action names the instruction for logs and errors.
func (i Instruction) Action() string {
	if i.Name != "" {
		return i.Name
	}
	return string(i.Value)
}

// ParseInstructions normalises an instruction payload.
//
// Accepted shapes:
//
//	42                                   -> [{Value: 42}]
//	"reset"                              -> [{Name: "reset"}]
//	{"instruction": "reset"}             -> [{Name: "reset"}]
//	[{"instruction": "test"}, {...}]     -> one Instruction per element
func ParseInstructions(payload json.RawMessage) ([]Instruction, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidInstruction)
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInstruction, err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: empty instruction list", ErrInvalidInstruction)
		}
		out := make([]Instruction, 0, len(items))
		for _, item := range items {
			inst, err := parseObject(item)
			if err != nil {
				return nil, err
			}
			out = append(out, inst)
		}
		return out, nil

	case '{':
		inst, err := parseObject(trimmed)
		if err != nil {
			return nil, err
		}
		return []Instruction{inst}, nil

	case '"':
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInstruction, err)
		}
		if name == "" {
			return nil, fmt.Errorf("%w: empty instruction name", ErrInvalidInstruction)
		}
		return []Instruction{{Name: name}}, nil

	default:
		if !json.Valid(trimmed) {
			return nil, fmt.Errorf("%w: invalid JSON", ErrInvalidInstruction)
		}
		return []Instruction{{Value: append(json.RawMessage(nil), trimmed...)}}, nil
	}
}

// parseObject decodes a single {"instruction": name, ...} object.
func parseObject(raw json.RawMessage) (Instruction, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Instruction{}, fmt.Errorf("%w: %w", ErrInvalidInstruction, err)
	}

	nameRaw, ok := fields[instructionKey]
	if !ok {
		return Instruction{}, fmt.Errorf("%w: missing %q field", ErrInvalidInstruction, instructionKey)
	}

	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil || name == "" {
		return Instruction{}, fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidInstruction, instructionKey)
	}
	delete(fields, instructionKey)

	return Instruction{Name: name, Args: fields}, nil
}
