package store

import (
	"errors"
	"fmt"

	"github.com/nextlevelbuilder/goscan/pkg/protocol"
)

// MaxUserIDLength matches the VARCHAR(255) owner_user_id column.
const MaxUserIDLength = 255

var ErrInvalidUserID = errors.New("invalid user id")

// ValidateUserID checks an id before it is stored as a session owner. The
// id is also the first segment of every image object key, so path
// separators are rejected along with empty and oversized ids.
func ValidateUserID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	case len(id) > MaxUserIDLength:
		return fmt.Errorf("%w: %d chars (max %d)", ErrInvalidUserID, len(id), MaxUserIDLength)
	case !protocol.ValidKeySegment(id):
		return fmt.Errorf("%w: not usable as a storage key segment", ErrInvalidUserID)
	}
	return nil
}
