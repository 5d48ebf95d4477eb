package value

import "fmt"

// Tag wraps v in its persisted form: {"kind": <name>, "value": <payload>}.
// Lists and maps tag their elements recursively. The tag is what lets a
// Float(1) survive a JSON round trip instead of coming back as Int(1).
func Tag(v Value) Map {
	if v == nil {
		v = Null{}
	}
	out := Map{"kind": String(v.Kind().String())}
	switch x := v.(type) {
	case Null:
	case List:
		items := make(List, len(x))
		for i, elem := range x {
			items[i] = Tag(elem)
		}
		out["value"] = items
	case Map:
		fields := make(Map, len(x))
		for k, elem := range x {
			fields[k] = Tag(elem)
		}
		out["value"] = fields
	default:
		out["value"] = v
	}
	return out
}

// Untag reverses Tag.
func Untag(v Value) (Value, error) {
	m, ok := v.(Map)
	if !ok {
		return nil, fmt.Errorf("tagged value must be a map, got %s", kindOf(v))
	}
	name, ok := m["kind"].(String)
	if !ok {
		return nil, fmt.Errorf("tagged value missing kind")
	}
	kind, ok := ParseKind(string(name))
	if !ok {
		return nil, fmt.Errorf("unknown value kind %q", name)
	}
	payload := m["value"]

	switch kind {
	case KindNull:
		return Null{}, nil
	case KindBool:
		if b, ok := payload.(Bool); ok {
			return b, nil
		}
	case KindInt:
		if n, ok := payload.(Int); ok {
			return n, nil
		}
	case KindFloat:
		switch f := payload.(type) {
		case Float:
			return f, nil
		case Int:
			return Float(f), nil
		}
	case KindString:
		if s, ok := payload.(String); ok {
			return s, nil
		}
	case KindList:
		items, ok := payload.(List)
		if !ok {
			break
		}
		out := make(List, len(items))
		for i, elem := range items {
			ev, err := Untag(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case KindMap:
		fields, ok := payload.(Map)
		if !ok {
			break
		}
		out := make(Map, len(fields))
		for k, elem := range fields {
			ev, err := Untag(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	}
	return nil, fmt.Errorf("tagged %s has payload of kind %s", kind, kindOf(payload))
}

func kindOf(v Value) Kind {
	if v == nil {
		return KindNull
	}
	return v.Kind()
}
