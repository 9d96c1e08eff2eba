package core

import (
	"errors"
	"strings"
)

// RoomSeparator joins the two participant uids of a private room.
const RoomSeparator = "__"

var (
	// ErrInvalidRoom is returned when a room id does not name exactly two participants.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrNotRoomMember is returned when the acting user is not one of the room's participants.
	ErrNotRoomMember = errors.New("not a room member")
)

// PairRoomID derives the canonical room id for a pair of users.
// The uids are sorted lexicographically before joining, so both orders
// of the same pair resolve to the same room.
func PairRoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + RoomSeparator + b
}

// SplitRoomID resolves a room id back into its two participant uids.
// It returns ErrInvalidRoom if the id does not name exactly two
// non-empty participants.
func SplitRoomID(roomID string) (string, string, error) {
	uids := strings.Split(roomID, RoomSeparator)
	if len(uids) != 2 || uids[0] == "" || uids[1] == "" {
		return "", "", ErrInvalidRoom
	}
	return uids[0], uids[1], nil
}

// OtherMember returns the participant of the room that is not user.
// It returns ErrNotRoomMember if user is not one of the two participants.
func OtherMember(roomID, user string) (string, error) {
	a, b, err := SplitRoomID(roomID)
	if err != nil {
		return "", err
	}
	switch user {
	case a:
		return b, nil
	case b:
		return a, nil
	default:
		return "", ErrNotRoomMember
	}
}
