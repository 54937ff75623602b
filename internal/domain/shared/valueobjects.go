package shared

import (
	"strings"

	"github.com/google/uuid"
)

// StudentID is the canonical (lower-case UUID) identifier of a student.
type StudentID string

// NewStudentID parses and normalizes a student identifier.
func NewStudentID(raw string) (StudentID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", WrapError("student", "Validate", ErrInvalidID, "invalid student ID", err)
	}
	return StudentID(id.String()), nil
}

// MustStudentID panics on an invalid identifier. Test and seed helper.
func MustStudentID(raw string) StudentID {
	id, err := NewStudentID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

func (s StudentID) String() string { return string(s) }

// IsEmpty reports whether the ID is unset.
func (s StudentID) IsEmpty() bool { return s == "" }
