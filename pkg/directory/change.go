package directory

import "fmt"

// ChangeKind tags an entry in a collection change list.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// ParseChangeKind is the inverse of ChangeKind.String.
func ParseChangeKind(s string) (ChangeKind, error) {
	switch s {
	case "added":
		return ChangeAdded, nil
	case "modified":
		return ChangeModified, nil
	case "removed":
		return ChangeRemoved, nil
	}
	return 0, fmt.Errorf("directory: unknown change kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ChangeKind) UnmarshalText(b []byte) error {
	v, err := ParseChangeKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Change is a single entry of a collection change list.
type Change struct {
	Kind ChangeKind
	Doc  Document
}

// Operation names a directory call in permission errors and access rules.
type Operation string

const (
	OpCreate Operation = "create"
	OpSet    Operation = "write"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpGet    Operation = "get"
	OpList   Operation = "list"
)
