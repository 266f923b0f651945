package codegen

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidSignature is returned for an event signature that cannot be parsed.
var ErrInvalidSignature = errors.New("invalid event signature")

var (
	eventNamePattern = regexp.MustCompile(`^[A-Z][a-zA-Z0-9_]*$`)
	paramNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	fixedBytesType   = regexp.MustCompile(`^bytes([1-9]|[12][0-9]|3[0-2])$`)
	intType          = regexp.MustCompile(`^u?int(8|16|24|32|40|48|56|64|72|80|88|96|104|112|120|128|136|144|152|160|168|176|184|192|200|208|216|224|232|240|248|256)?$`) //nolint:lll
)

// EventParam is one parameter of an event signature.
type EventParam struct {
	Name    string
	Type    string // Solidity type, e.g. "uint256"
	Indexed bool
}

// FieldName is the Go field name of the parameter in the generated entity.
func (p EventParam) FieldName() string {
	return ToPascalCase(p.Name)
}

// EventSignature is a parsed event declaration.
type EventSignature struct {
	Raw    string
	Name   string
	Params []EventParam
}

// ParseEventSignature parses signatures such as
//
//	Transfer(address,address,uint256)
//	Transfer(address indexed from, address indexed to, uint256 value)
//
// Unnamed parameters are called param0, param1 and so on.
func ParseEventSignature(sig string) (*EventSignature, error) {
	sig = strings.TrimSpace(sig)
	if sig == "" {
		return nil, fmt.Errorf("%w: empty signature", ErrInvalidSignature)
	}

	openParen := strings.Index(sig, "(")
	closeParen := strings.LastIndex(sig, ")")
	switch {
	case openParen == -1:
		return nil, fmt.Errorf("%w: missing opening parenthesis", ErrInvalidSignature)
	case closeParen == -1:
		return nil, fmt.Errorf("%w: missing closing parenthesis", ErrInvalidSignature)
	case closeParen < openParen:
		return nil, fmt.Errorf("%w: malformed parentheses", ErrInvalidSignature)
	}

	name := strings.TrimSpace(sig[:openParen])
	if name == "" {
		return nil, fmt.Errorf("%w: empty event name", ErrInvalidSignature)
	}
	if !eventNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: event name %q must start with an uppercase letter "+
			"and contain only alphanumeric characters", ErrInvalidSignature, name)
	}

	params, err := parseParameters(sig[openParen+1 : closeParen])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	return &EventSignature{Raw: sig, Name: name, Params: params}, nil
}

func parseParameters(list string) ([]EventParam, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return []EventParam{}, nil
	}

	parts := strings.Split(list, ",")
	params := make([]EventParam, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	indexed := 0

	for i, part := range parts {
		param, err := parseParameter(strings.TrimSpace(part), i)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", part, err)
		}
		if seen[param.Name] {
			return nil, fmt.Errorf("duplicate parameter name: %s", param.Name)
		}
		seen[param.Name] = true

		if param.Indexed {
			indexed++
		}
		params = append(params, param)
	}

	// topic0 holds the signature hash
	if indexed > 3 { //nolint:mnd
		return nil, fmt.Errorf("at most 3 parameters can be indexed, got %d", indexed)
	}

	return params, nil
}

// parseParameter accepts "type", "type name", "type indexed" and
// "type indexed name".
func parseParameter(s string, index int) (EventParam, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return EventParam{}, errors.New("empty parameter")
	}

	param := EventParam{Type: fields[0], Name: fmt.Sprintf("param%d", index)}
	if !isValidSolidityType(param.Type) {
		return EventParam{}, fmt.Errorf("invalid Solidity type: %s", param.Type)
	}

	switch len(fields) {
	case 1:
	case 2: //nolint:mnd
		if fields[1] == "indexed" {
			param.Indexed = true
		} else {
			param.Name = fields[1]
		}
	case 3: //nolint:mnd
		if fields[1] != "indexed" {
			return EventParam{}, fmt.Errorf("expected 'indexed' keyword, got '%s'", fields[1])
		}
		param.Indexed = true
		param.Name = fields[2]
	default:
		return EventParam{}, errors.New("too many parts in parameter definition")
	}

	if !paramNamePattern.MatchString(param.Name) {
		return EventParam{}, fmt.Errorf("invalid parameter name: %s", param.Name)
	}

	return param, nil
}

// isValidSolidityType accepts elementary types and arrays of them. Tuples are
// not supported.
func isValidSolidityType(typ string) bool {
	if base, prefix := arrayBase(typ); prefix != "" {
		return isValidSolidityType(base)
	}

	switch typ {
	case addressType, boolType, stringType, bytesType:
		return true
	}

	return fixedBytesType.MatchString(typ) || intType.MatchString(typ)
}

// CanonicalSignature returns the signature without parameter names, as hashed
// into topic0.
func (e *EventSignature) CanonicalSignature() string {
	types := make([]string, len(e.Params))
	for i, param := range e.Params {
		types[i] = param.Type
	}

	return e.Name + "(" + strings.Join(types, ",") + ")"
}

// IndexedParams returns the parameters carried in topics.
func (e *EventSignature) IndexedParams() []EventParam {
	var indexed []EventParam
	for _, param := range e.Params {
		if param.Indexed {
			indexed = append(indexed, param)
		}
	}
	return indexed
}

type abiInput struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed"`
}

type abiEvent struct {
	Type      string     `json:"type"`
	Name      string     `json:"name"`
	Anonymous bool       `json:"anonymous"`
	Inputs    []abiInput `json:"inputs"`
}

// ABIJSON renders events as a JSON ABI accepted by abi.JSON.
func ABIJSON(events []*EventSignature) (string, error) {
	entries := make([]abiEvent, 0, len(events))
	for _, event := range events {
		inputs := make([]abiInput, 0, len(event.Params))
		for _, p := range event.Params {
			inputs = append(inputs, abiInput{Name: p.Name, Type: p.Type, Indexed: p.Indexed})
		}
		entries = append(entries, abiEvent{Type: "event", Name: event.Name, Inputs: inputs})
	}

	out, err := json.MarshalIndent(entries, "", "\t")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
