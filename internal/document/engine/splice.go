package engine

import (
	"fmt"
	"unicode/utf8"

	"naskah/internal/document/model"
)

// Validate checks the shape of an edit. Out-of-range positions are not an
// error; Splice clamps them.
func Validate(op model.Op) error {
	if !op.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", model.ErrInvalidOperation, op.Kind)
	}
	if !utf8.ValidString(op.Text) {
		return fmt.Errorf("%w: text is not valid UTF-8", model.ErrInvalidOperation)
	}
	return nil
}

// Clamp returns position limited to [0, characters in content].
func Clamp(content string, position int) int {
	return max(0, min(position, utf8.RuneCountInString(content)))
}

// Splice applies op to content. Offsets count characters, not bytes, and refer
// to content as it was before the edit. Positions are clamped to
// [0, len(content)]. A delete trusts the client's position and the length of
// op.Text; the removed span is not compared with op.Text.
func Splice(content string, op model.Op) (string, error) {
	if err := Validate(op); err != nil {
		return "", err
	}
	runes := []rune(content)
	n := len(runes)
	pos := max(0, min(op.Position, n))
	width := utf8.RuneCountInString(op.Text)

	switch op.Kind {
	case model.KindInsert:
		return string(runes[:pos]) + op.Text + string(runes[pos:]), nil
	case model.KindDelete:
		end := min(pos+width, n)
		return string(runes[:pos]) + string(runes[end:]), nil
	default: // replace
		end := min(pos+width, n)
		return string(runes[:pos]) + op.Text + string(runes[end:]), nil
	}
}

// Replay rebuilds content by applying changes in order on top of base. The
// changes must carry consecutive versions.
func Replay(base string, changes []model.Change) (string, error) {
	content := base
	for i, c := range changes {
		if i > 0 && c.Version != changes[i-1].Version+1 {
			return "", fmt.Errorf("%w: change log gap between v%d and v%d", model.ErrInvalidOperation, changes[i-1].Version, c.Version)
		}
		var err error
		content, err = Splice(content, c.Op())
		if err != nil {
			return "", fmt.Errorf("replay v%d: %w", c.Version, err)
		}
	}
	return content, nil
}
