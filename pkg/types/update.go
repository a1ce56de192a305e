package types

import (
	"fmt"
	"strings"
)

// Field names a mutable attribute of a Memory.
type Field int

const (
	FieldContent Field = iota
	FieldCategory
	FieldImportanceScore
)

func (f Field) String() string {
	switch f {
	case FieldContent:
		return "content"
	case FieldCategory:
		return "category"
	case FieldImportanceScore:
		return "importance_score"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// MemoryUpdate is a partial update. Nil fields are left untouched.
type MemoryUpdate struct {
	Content         *string `json:"content,omitempty"`
	Category        *string `json:"category,omitempty"`
	ImportanceScore *int    `json:"importance_score,omitempty"`
}

// Fields returns the supplied fields in declaration order.
func (u MemoryUpdate) Fields() []Field {
	var fields []Field
	if u.Content != nil {
		fields = append(fields, FieldContent)
	}
	if u.Category != nil {
		fields = append(fields, FieldCategory)
	}
	if u.ImportanceScore != nil {
		fields = append(fields, FieldImportanceScore)
	}
	return fields
}

// Validate checks every supplied field.
func (u MemoryUpdate) Validate() error {
	for _, f := range u.Fields() {
		switch f {
		case FieldContent:
			if *u.Content == "" {
				return fmt.Errorf("%w: content must not be empty", ErrValidation)
			}
		case FieldCategory:
			if strings.TrimSpace(*u.Category) == "" {
				return fmt.Errorf("%w: category must not be empty", ErrValidation)
			}
		case FieldImportanceScore:
			if err := ValidateImportance(*u.ImportanceScore); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown field %s", ErrValidation, f)
		}
	}
	return nil
}

// Apply copies the supplied fields onto m and reports whether the content
// changed. Timestamps are not touched.
func (u MemoryUpdate) Apply(m *Memory) (contentChanged bool, err error) {
	if err := u.Validate(); err != nil {
		return false, err
	}
	for _, f := range u.Fields() {
		switch f {
		case FieldContent:
			if m.Content != *u.Content {
				contentChanged = true
			}
			m.Content = *u.Content
		case FieldCategory:
			m.Category = *u.Category
		case FieldImportanceScore:
			m.ImportanceScore = *u.ImportanceScore
		}
	}
	return contentChanged, nil
}
