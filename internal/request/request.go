// Package request defines the wire message types exchanged between a
// Process and its ClientComms/ServerComms boundary: a closed set of
// Request variants (Get, Put, Post, Subscribe, Unsubscribe) and Response
// variants (Return, Error, Update, Delta), each a tagged Serializable
// (spec.md §6). Dispatch is a type switch over the concrete variant
// rather than open-ended reflection, per spec.md §9's re-architecture
// guidance.
package request

import (
	"fmt"

	"github.com/blockmesh/process/internal/serializable"
)

// Request is anything a caller can submit to a Process: a request to
// read, write, invoke, or subscribe to an endpoint.
type Request interface {
	serializable.Serializable
	RequestID() string
}

// Response is anything a Process sends back in answer to a Request.
type Response interface {
	serializable.Serializable
	ResponseID() string
}

const (
	GetTypeID         = "malcolm:core/Get:1.0"
	PutTypeID         = "malcolm:core/Put:1.0"
	PostTypeID        = "malcolm:core/Post:1.0"
	SubscribeTypeID   = "malcolm:core/Subscribe:1.0"
	UnsubscribeTypeID = "malcolm:core/Unsubscribe:1.0"
	ReturnTypeID      = "malcolm:core/Return:1.0"
	ErrorTypeID       = "malcolm:core/Error:1.0"
	UpdateTypeID      = "malcolm:core/Update:1.0"
	DeltaTypeID       = "malcolm:core/Delta:1.0"
)

// Get resolves endpoint to a snapshot subtree (spec.md §4.4).
type Get struct {
	ID       string
	Endpoint []string
}

func (g *Get) RequestID() string { return g.ID }
func (g *Get) TypeID() string    { return GetTypeID }
func (g *Get) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", GetTypeID)
	d.Set("id", g.ID)
	d.Set("endpoint", stringsToAny(g.Endpoint))
	return d, nil
}

// Put writes value to the attribute named by endpoint (spec.md §4.4).
type Put struct {
	ID       string
	Endpoint []string
	Value    any
}

func (p *Put) RequestID() string { return p.ID }
func (p *Put) TypeID() string    { return PutTypeID }
func (p *Put) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", PutTypeID)
	d.Set("id", p.ID)
	d.Set("endpoint", stringsToAny(p.Endpoint))
	d.Set("value", p.Value)
	return d, nil
}

// Post invokes the method named by endpoint with parameters (spec.md §4.4).
type Post struct {
	ID         string
	Endpoint   []string
	Parameters *serializable.OrderedMap
}

func (p *Post) RequestID() string { return p.ID }
func (p *Post) TypeID() string    { return PostTypeID }
func (p *Post) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", PostTypeID)
	d.Set("id", p.ID)
	d.Set("endpoint", stringsToAny(p.Endpoint))
	if p.Parameters == nil {
		d.Set("parameters", serializable.NewOrderedMap())
	} else {
		d.Set("parameters", p.Parameters)
	}
	return d, nil
}

// Subscribe registers continuing interest in endpoint; Delta selects
// delta-mode over snapshot-mode (spec.md §4.5).
type Subscribe struct {
	ID       string
	Endpoint []string
	Delta    bool
}

func (s *Subscribe) RequestID() string { return s.ID }
func (s *Subscribe) TypeID() string    { return SubscribeTypeID }
func (s *Subscribe) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", SubscribeTypeID)
	d.Set("id", s.ID)
	d.Set("endpoint", stringsToAny(s.Endpoint))
	d.Set("delta", s.Delta)
	return d, nil
}

// Unsubscribe cancels the subscription originally registered under ID.
type Unsubscribe struct {
	ID string
}

func (u *Unsubscribe) RequestID() string { return u.ID }
func (u *Unsubscribe) TypeID() string    { return UnsubscribeTypeID }
func (u *Unsubscribe) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", UnsubscribeTypeID)
	d.Set("id", u.ID)
	return d, nil
}

// Return carries the successful result of a Get, Put, or Post.
type Return struct {
	ID    string
	Value any
}

func (r *Return) ResponseID() string { return r.ID }
func (r *Return) TypeID() string     { return ReturnTypeID }
func (r *Return) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", ReturnTypeID)
	d.Set("id", r.ID)
	d.Set("value", r.Value)
	return d, nil
}

// Error carries a failed request's message verbatim.
type Error struct {
	ID      string
	Message string
}

func (e *Error) ResponseID() string { return e.ID }
func (e *Error) TypeID() string     { return ErrorTypeID }
func (e *Error) Error() string      { return e.Message }
func (e *Error) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", ErrorTypeID)
	d.Set("id", e.ID)
	d.Set("message", e.Message)
	return d, nil
}

// Update carries a full subtree snapshot to a non-delta subscription.
type Update struct {
	ID    string
	Value any
}

func (u *Update) ResponseID() string { return u.ID }
func (u *Update) TypeID() string     { return UpdateTypeID }
func (u *Update) ToDict() (*serializable.OrderedMap, error) {
	d := serializable.NewOrderedMap()
	d.Set("typeid", UpdateTypeID)
	d.Set("id", u.ID)
	d.Set("value", u.Value)
	return d, nil
}

// DeltaChange is one entry of a Delta's changes list: [path, value], or
// [path] alone for a deletion (spec.md §4.5, §6).
type DeltaChange struct {
	Path    []string
	Value   any
	Deleted bool
}

// Delta carries the list of changes relevant to a delta subscription
// since its last response, in arrival order.
type Delta struct {
	ID      string
	Changes []DeltaChange
}

func (d *Delta) ResponseID() string { return d.ID }
func (d *Delta) TypeID() string     { return DeltaTypeID }
func (d *Delta) ToDict() (*serializable.OrderedMap, error) {
	out := serializable.NewOrderedMap()
	out.Set("typeid", DeltaTypeID)
	out.Set("id", d.ID)
	changes := make([]any, 0, len(d.Changes))
	for _, c := range d.Changes {
		if c.Deleted {
			changes = append(changes, []any{stringsToAny(c.Path)})
		} else {
			changes = append(changes, []any{stringsToAny(c.Path), c.Value})
		}
	}
	out.Set("changes", changes)
	return out, nil
}

func stringsToAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// ValueAsStringSlice normalizes a StringArray attribute's resolved value
// into a []string, whether it arrived as a raw Go []string (a Subscribe
// served directly out of a local Process, never JSON-encoded) or as
// []any of string elements (a value that crossed the wire and was
// decoded by serializable.OrderedMap's array handling).
func ValueAsStringSlice(v any) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []any:
		return stringSlice(t)
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", v)
	}
}

func stringSlice(raw any) ([]string, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of strings, got %T", raw)
	}
	out := make([]string, len(list))
	for i, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("path element %d is not a string: %v", i, v)
		}
		out[i] = s
	}
	return out, nil
}

func requireString(d *serializable.OrderedMap, key string) (string, error) {
	raw, ok := d.Get(key)
	if !ok {
		return "", &serializable.DeserializationError{Reason: fmt.Sprintf("missing %q field", key)}
	}
	s, ok := raw.(string)
	if !ok {
		return "", &serializable.DeserializationError{Reason: fmt.Sprintf("%q field is not a string: %v", key, raw)}
	}
	return s, nil
}

func requireEndpoint(d *serializable.OrderedMap) ([]string, error) {
	raw, ok := d.Get("endpoint")
	if !ok {
		return nil, &serializable.DeserializationError{Reason: "missing \"endpoint\" field"}
	}
	ep, err := stringSlice(raw)
	if err != nil {
		return nil, &serializable.DeserializationError{Reason: err.Error()}
	}
	return ep, nil
}

func init() {
	serializable.Register(GetTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		id, err := requireString(d, "id")
		if err != nil {
			return nil, err
		}
		ep, err := requireEndpoint(d)
		if err != nil {
			return nil, err
		}
		return &Get{ID: id, Endpoint: ep}, nil
	})

	serializable.Register(PutTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		id, err := requireString(d, "id")
		if err != nil {
			return nil, err
		}
		ep, err := requireEndpoint(d)
		if err != nil {
			return nil, err
		}
		value, _ := d.Get("value")
		return &Put{ID: id, Endpoint: ep, Value: value}, nil
	})

	serializable.Register(PostTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		id, err := requireString(d, "id")
		if err != nil {
			return nil, err
		}
		ep, err := requireEndpoint(d)
		if err != nil {
			return nil, err
		}
		var params *serializable.OrderedMap
		if raw, ok := d.Get("parameters"); ok {
			if om, ok := raw.(*serializable.OrderedMap); ok {
				params = om
			}
		}
		return &Post{ID: id, Endpoint: ep, Parameters: params}, nil
	})

	serializable.Register(SubscribeTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		id, err := requireString(d, "id")
		if err != nil {
			return nil, err
		}
		ep, err := requireEndpoint(d)
		if err != nil {
			return nil, err
		}
		delta, _ := d.Get("delta")
		db, _ := delta.(bool)
		return &Subscribe{ID: id, Endpoint: ep, Delta: db}, nil
	})

	serializable.Register(UnsubscribeTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		id, err := requireString(d, "id")
		if err != nil {
			return nil, err
		}
		return &Unsubscribe{ID: id}, nil
	})

	serializable.Register(ReturnTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		id, err := requireString(d, "id")
		if err != nil {
			return nil, err
		}
		value, _ := d.Get("value")
		return &Return{ID: id, Value: value}, nil
	})

	serializable.Register(ErrorTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		id, err := requireString(d, "id")
		if err != nil {
			return nil, err
		}
		msg, _ := requireString(d, "message")
		return &Error{ID: id, Message: msg}, nil
	})

	serializable.Register(UpdateTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		id, err := requireString(d, "id")
		if err != nil {
			return nil, err
		}
		value, _ := d.Get("value")
		return &Update{ID: id, Value: value}, nil
	})

	serializable.Register(DeltaTypeID, func(d *serializable.OrderedMap) (serializable.Serializable, error) {
		id, err := requireString(d, "id")
		if err != nil {
			return nil, err
		}
		raw, ok := d.Get("changes")
		if !ok {
			return nil, &serializable.DeserializationError{Reason: "missing \"changes\" field"}
		}
		list, ok := raw.([]any)
		if !ok {
			return nil, &serializable.DeserializationError{Reason: "\"changes\" is not a list"}
		}
		changes := make([]DeltaChange, 0, len(list))
		for i, entry := range list {
			tuple, ok := entry.([]any)
			if !ok || len(tuple) == 0 || len(tuple) > 2 {
				return nil, &serializable.DeserializationError{Reason: fmt.Sprintf("changes[%d] is not a 1- or 2-element tuple", i)}
			}
			path, err := stringSlice(tuple[0])
			if err != nil {
				return nil, &serializable.DeserializationError{Reason: err.Error()}
			}
			if len(tuple) == 1 {
				changes = append(changes, DeltaChange{Path: path, Deleted: true})
			} else {
				changes = append(changes, DeltaChange{Path: path, Value: tuple[1]})
			}
		}
		return &Delta{ID: id, Changes: changes}, nil
	})
}
