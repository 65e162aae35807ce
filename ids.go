package parley

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is the canonical string form of a backend identifier. The backend
// emits the same identifier as a JSON number in some payloads and as a
// string in others; both decode to the same ID.
type ID string

// IDOf converts a raw identifier value into its canonical form.
func IDOf(v any) ID {
	switch x := v.(type) {
	case nil:
		return ""
	case ID:
		return x
	case string:
		return ID(x)
	case int:
		return ID(strconv.Itoa(x))
	case int32:
		return ID(strconv.FormatInt(int64(x), 10))
	case int64:
		return ID(strconv.FormatInt(x, 10))
	case uint:
		return ID(strconv.FormatUint(uint64(x), 10))
	case uint64:
		return ID(strconv.FormatUint(x, 10))
	case float64:
		return ID(strconv.FormatFloat(x, 'f', -1, 64))
	case json.Number:
		return ID(x.String())
	case fmt.Stringer:
		return ID(x.String())
	default:
		return ID(fmt.Sprint(x))
	}
}

func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is empty.
func (id ID) IsZero() bool { return id == "" }

// Ptr returns a pointer to a copy of id.
func (id ID) Ptr() *ID { return &id }

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id: expected string or number, got %s", data)
	}
	*id = ID(n.String())
	return nil
}

// CompareIDs reports whether two raw identifiers are equal under the
// canonical string form, so CompareIDs(42, "42") is true.
func CompareIDs(a, b any) bool {
	return IDOf(a) == IDOf(b)
}

// Identifiable is implemented by every entity held in a store.
type Identifiable interface {
	Identity() ID
}

// FindByID returns the first item whose identity equals id.
func FindByID[T Identifiable](items []T, id ID) (T, bool) {
	if i := FindIndexByID(items, id); i >= 0 {
		return items[i], true
	}
	var zero T
	return zero, false
}

// FindIndexByID returns the index of the first item whose identity equals
// id, or -1.
func FindIndexByID[T Identifiable](items []T, id ID) int {
	for i := range items {
		if items[i].Identity() == id {
			return i
		}
	}
	return -1
}
