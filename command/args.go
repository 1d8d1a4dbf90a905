package command

import (
	"bytes"
	"encoding/json"

	"github.com/elementsproject/holdinvoice/holderrors"
)

// splitArgs implements the Command Surface's dynamic-argument-shape
// normalization (spec §4.7/§9): a JSON-RPC request's params may be a
// positional array or a keyed object. Positional elements are assigned
// to keyOrder by index; keyed objects are rejected if they carry any key
// outside keyOrder. Either way the result is a closed-key-set map keyed
// by the canonical argument name.
func splitArgs(raw json.RawMessage, keyOrder []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return out, nil
	}

	switch trimmed[0] {
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, holderrors.InputError("invalid positional arguments: %v", err)
		}
		if len(arr) > len(keyOrder) {
			return nil, holderrors.InputError("too many positional arguments: got %d, want at most %d", len(arr), len(keyOrder))
		}
		for idx, v := range arr {
			out[keyOrder[idx]] = v
		}
		return out, nil

	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, holderrors.InputError("invalid keyed arguments: %v", err)
		}
		valid := make(map[string]bool, len(keyOrder))
		for _, k := range keyOrder {
			valid[k] = true
		}
		for k, v := range obj {
			if !valid[k] {
				return nil, holderrors.InputError("unknown argument %q", k)
			}
			out[k] = v
		}
		return out, nil

	default:
		return nil, holderrors.InputError("arguments must be a JSON array or object")
	}
}

func optString(args map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := args[key]
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, holderrors.InputError("%s must be a string", key)
	}
	return &s, nil
}

func reqString(args map[string]json.RawMessage, key string) (string, error) {
	s, err := optString(args, key)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", holderrors.InputError("%s is required", key)
	}
	return *s, nil
}

func optUint64(args map[string]json.RawMessage, key string) (*uint64, error) {
	raw, ok := args[key]
	if !ok {
		return nil, nil
	}
	var v uint64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, holderrors.InputError("%s must be a non-negative integer", key)
	}
	return &v, nil
}

func reqUint64(args map[string]json.RawMessage, key string) (uint64, error) {
	v, err := optUint64(args, key)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, holderrors.InputError("%s is required", key)
	}
	return *v, nil
}

func optUint32(args map[string]json.RawMessage, key string) (*uint32, error) {
	raw, ok := args[key]
	if !ok {
		return nil, nil
	}
	var v uint32
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, holderrors.InputError("%s must be a non-negative integer", key)
	}
	return &v, nil
}

func optBool(args map[string]json.RawMessage, key string) (bool, error) {
	raw, ok := args[key]
	if !ok {
		return false, nil
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, holderrors.InputError("%s must be a boolean", key)
	}
	return v, nil
}

func optStringSlice(args map[string]json.RawMessage, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, holderrors.InputError("%s must be an array of strings", key)
	}
	return v, nil
}
