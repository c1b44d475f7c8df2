package exam

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/matiku/lms/internal/model"
)

// ParseImport decodes an exam file and returns its normalized, validated draft.
func ParseImport(data []byte) (Draft, error) {
	var in model.ExamImport
	if err := json.Unmarshal(data, &in); err != nil {
		return Draft{}, fmt.Errorf("%w: %w", ErrInvalidDraft, err)
	}
	d := DraftFromImport(in)
	d.Normalize()
	if err := d.Validate(); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// Checksum returns the hex SHA-256 of an imported file, used to skip
// re-imports of identical content.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
