package types

import (
	"encoding/json"
	"time"
)

// ARCHITECTURAL DISCOVERY: Frame type constants are wire-stable and shared by
// every component that reads or writes the chat socket
const (
	FrameTypeJoin        = "join"
	FrameTypeLeave       = "leave"
	FrameTypeChatMessage = "chat_message"
)

// Sender types carried by chat messages.
const (
	SenderTypeUser = "user"
	SenderTypeAI   = "ai"
)

// Frame is the JSON envelope exchanged over the chat connection.
// Payload is only present on chat_message frames.
type Frame struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is one chat message inside a room
// FUNCTIONAL DISCOVERY: AI persona replies travel over the same frames as user
// messages, distinguished only by SenderType
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	SenderType string    `json:"senderType"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
}

// Outbound is a chat message waiting for an open channel.
type Outbound struct {
	RoomID  string
	Message Message
}

// JoinFrame builds the frame announcing membership of a room.
func JoinFrame(roomID string) Frame {
	return Frame{Type: FrameTypeJoin, RoomID: roomID}
}

// LeaveFrame builds the frame dropping membership of a room.
func LeaveFrame(roomID string) Frame {
	return Frame{Type: FrameTypeLeave, RoomID: roomID}
}

// ChatFrame wraps a message for delivery to a room.
func ChatFrame(roomID string, msg Message) (Frame, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, ErrInvalidPayload
	}
	return Frame{Type: FrameTypeChatMessage, RoomID: roomID, Payload: payload}, nil
}

// TeamRoomID is the chat room shared by one team.
func TeamRoomID(teamID string) string {
	return "team_" + teamID
}

// DocumentRoomName is the collaborative editing room for a team's document in
// one project session.
func DocumentRoomName(sessionID, teamID string) string {
	return "session_" + sessionID + "_team_" + teamID
}
