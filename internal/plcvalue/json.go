package plcvalue

import (
	"bytes"
	"encoding/json"
)

// MarshalJSON encodes the value per spec.md §4.4: Str -> JSON string,
// Int -> JSON integer, Bool -> JSON boolean, Null (and any unrecognized
// variant) -> JSON null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.typ {
	case TypeString:
		return json.Marshal(v.stringVal)
	case TypeInteger:
		return json.Marshal(v.integerVal)
	case TypeBoolean:
		return json.Marshal(v.booleanVal)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes per spec.md §4.4's write-request rule: JSON
// string -> Str, JSON bool -> Bool, JSON integer -> Int (converted to
// int32), everything else (including JSON null and non-integer numbers
// such as 3.9) -> Null.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		v.SetNull()
		return nil
	}

	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		v.SetString(asString)
		return nil
	}

	var asBool bool
	if err := json.Unmarshal(data, &asBool); err == nil {
		v.SetBoolean(asBool)
		return nil
	}

	var asNumber json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&asNumber); err == nil {
		if i, err := asNumber.Int64(); err == nil {
			v.SetInteger(int32(i))
			return nil
		}
	}

	v.SetNull()
	return nil
}
