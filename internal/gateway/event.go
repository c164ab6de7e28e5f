package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Event names of the socket protocol.
const (
	EventAuth            = "auth"
	EventConnected       = "connected"
	EventDisconnect      = "disconnect"
	EventJoinChat        = "joinChat"
	EventLeaveChat       = "leaveChat"
	EventNewChat         = "newChat"
	EventUpdateGroupName = "updateGroupName"
	EventChatUpdated     = "chatUpdated"
	EventMessageReceived = "messageReceived"
	EventMessageDeleted  = "messageDeleted"
	EventTyping          = "typing"
	EventStopTyping      = "stopTyping"
	EventSocketError     = "socketError"
)

const (
	chatRoomPrefix = "chat."
	userRoomPrefix = "user."
)

// ChatRoom names the room of a chat. Room names double as relay topics.
func ChatRoom(chatID string) string {
	return chatRoomPrefix + chatID
}

// UserRoom names a user's personal room.
func UserRoom(userID int) string {
	return userRoomPrefix + strconv.Itoa(userID)
}

// RoomPatterns are the broker patterns covering every room namespace.
func RoomPatterns() []string {
	return []string{chatRoomPrefix + "*", userRoomPrefix + "*"}
}

// ValidRoom reports whether room belongs to a known namespace.
func ValidRoom(room string) bool {
	return strings.HasPrefix(room, chatRoomPrefix) || strings.HasPrefix(room, userRoomPrefix)
}

// Frame is what travels over the socket in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a room-addressed notification. ExceptUser and ExceptConn exclude
// the originator's sockets from delivery.
type Event struct {
	Room       string          `json:"room"`
	Name       string          `json:"event"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ExceptUser int             `json:"exceptUser,omitempty"`
	ExceptConn string          `json:"exceptConn,omitempty"`
}

func NewEvent(room, name string, payload any) (Event, error) {
	ev := Event{Room: room, Name: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
		}
		ev.Payload = data
	}
	return ev, nil
}

func (e Event) frame() ([]byte, error) {
	return encodeFrame(e.Name, e.Payload)
}

func encodeFrame(name string, data json.RawMessage) ([]byte, error) {
	return json.Marshal(Frame{Event: name, Data: data})
}

func errorFrame(message string) []byte {
	data, _ := json.Marshal(message)
	frame, _ := encodeFrame(EventSocketError, data)
	return frame
}
