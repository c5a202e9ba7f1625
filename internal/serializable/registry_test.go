package serializable

import "testing"

type fakeThing struct {
	Name string
}

func (f *fakeThing) TypeID() string { return "test:fake/Thing:1.0" }

func (f *fakeThing) ToDict() (*OrderedMap, error) {
	d := NewOrderedMap()
	d.Set("typeid", f.TypeID())
	d.Set("name", f.Name)
	return d, nil
}

func init() {
	Register("test:fake/Thing:1.0", func(d *OrderedMap) (Serializable, error) {
		name, _ := d.Get("name")
		s, _ := name.(string)
		return &fakeThing{Name: s}, nil
	})
}

func TestRoundTrip(t *testing.T) {
	original := &fakeThing{Name: "widget"}
	d, err := ToDict(original)
	if err != nil {
		t.Fatalf("ToDict: %v", err)
	}
	if got, want := d.Keys()[0], "typeid"; got != want {
		t.Fatalf("first key = %q, want %q", got, want)
	}

	v, err := FromDict(d)
	if err != nil {
		t.Fatalf("FromDict: %v", err)
	}
	got, ok := v.(*fakeThing)
	if !ok {
		t.Fatalf("FromDict returned %T, want *fakeThing", v)
	}
	if got.Name != original.Name {
		t.Errorf("Name = %q, want %q", got.Name, original.Name)
	}
}

func TestFromDictMissingTypeID(t *testing.T) {
	d := NewOrderedMap()
	d.Set("name", "widget")
	_, err := FromDict(d)
	if err == nil {
		t.Fatal("expected error for missing typeid")
	}
	var derr *DeserializationError
	if !errorsAs(err, &derr) {
		t.Fatalf("expected *DeserializationError, got %T", err)
	}
}

func TestFromDictUnknownTypeID(t *testing.T) {
	d := NewOrderedMap()
	d.Set("typeid", "test:fake/DoesNotExist:1.0")
	_, err := FromDict(d)
	if err == nil {
		t.Fatal("expected error for unknown typeid")
	}
}

func TestOrderedMapPreservesOrder(t *testing.T) {
	m := NewOrderedMap()
	m.Set("z", 1)
	m.Set("a", 2)
	m.Set("m", 3)
	want := []string{"z", "a", "m"}
	got := m.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", got, want)
		}
	}
}

func TestOrderedMapJSONRoundTrip(t *testing.T) {
	m := NewOrderedMap()
	m.Set("typeid", "test:fake/Thing:1.0")
	m.Set("b", 2)
	m.Set("a", 1)

	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	const want = `{"typeid":"test:fake/Thing:1.0","b":2,"a":1}`
	if string(data) != want {
		t.Fatalf("MarshalJSON = %s, want %s", data, want)
	}

	var m2 OrderedMap
	if err := m2.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got := m2.Keys(); len(got) != 3 || got[0] != "typeid" || got[1] != "b" || got[2] != "a" {
		t.Fatalf("UnmarshalJSON order = %v", got)
	}
}

// errorsAs is a tiny local wrapper so this file doesn't need to import
// "errors" just for one call site.
func errorsAs(err error, target **DeserializationError) bool {
	d, ok := err.(*DeserializationError)
	if ok {
		*target = d
	}
	return ok
}
