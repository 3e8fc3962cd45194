package types

import (
	"encoding/json"
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

const maxContentBytes = 65536

// IsValidRoomID checks if a room ID meets format requirements.
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 128 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidFrameType checks if the frame type is one the chat protocol knows.
func IsValidFrameType(frameType string) bool {
	switch frameType {
	case FrameTypeJoin, FrameTypeLeave, FrameTypeChatMessage:
		return true
	default:
		return false
	}
}

// Validate ensures the message can be sent.
// An empty SenderType defaults to user.
func (m *Message) Validate() error {
	if m.SenderType == "" {
		m.SenderType = SenderTypeUser
	}
	if m.SenderType != SenderTypeUser && m.SenderType != SenderTypeAI {
		return ErrInvalidSenderType
	}
	if len(m.Content) > maxContentBytes {
		return ErrContentTooLarge
	}
	return nil
}

// DecodeChatFrame parses raw bytes and returns the room and message of a
// chat_message frame. A type outside the protocol yields ErrUnknownFrameType,
// a known non-chat frame yields ErrInvalidFrameType, and a chat frame missing
// its room or payload yields the matching validation error.
func DecodeChatFrame(data []byte) (string, Message, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", Message{}, ErrInvalidPayload
	}
	if !IsValidFrameType(frame.Type) {
		return "", Message{}, ErrUnknownFrameType
	}
	if frame.Type != FrameTypeChatMessage {
		return "", Message{}, ErrInvalidFrameType
	}
	if frame.RoomID == "" {
		return "", Message{}, ErrInvalidRoomID
	}
	if len(frame.Payload) == 0 || string(frame.Payload) == "null" {
		return "", Message{}, ErrMissingPayload
	}

	var msg Message
	if err := json.Unmarshal(frame.Payload, &msg); err != nil {
		return "", Message{}, ErrInvalidPayload
	}
	return frame.RoomID, msg, nil
}
