package chat

// Event names carried in the "type" field of every frame, both directions.
const (
	EvAuthenticate  = "authenticate"
	EvJoinRoom      = "joinRoom"
	EvLeaveRoom     = "leaveRoom"
	EvChatMessage   = "chatMessage"
	EvDirectMessage = "directMessage"
	EvReaction      = "reaction"
	EvReadMessage   = "readMessage"
	EvEditMessage   = "editMessage"
	EvDeleteMessage = "deleteMessage"
	EvTyping        = "typing"
	EvStopTyping    = "stopTyping"

	EvAuthOK      = "authOK"
	EvAuthError   = "authError"
	EvUserList    = "userList"
	EvRoomHistory = "roomHistory"
	EvReadReceipt = "readReceipt"
	EvFileError   = "fileError"
	EvError       = "error"
)

// Inbound is the flat client→server frame. Only the fields relevant to the
// declared Type are read; the rest stay zero.
type Inbound struct {
	Type       string       `json:"type"`
	Token      string       `json:"token,omitempty"`
	Room       string       `json:"room,omitempty"`
	Content    string       `json:"content,omitempty"`
	ToUserID   int          `json:"toUserId,omitempty"`
	MessageID  string       `json:"messageId,omitempty"`
	NewContent string       `json:"newContent,omitempty"`
	Reaction   string       `json:"reaction,omitempty"`
	File       *FilePayload `json:"file,omitempty"`
}

// Outbound is the server→client frame. One struct covers every event type;
// omitempty keeps the unused fields off the wire.
type Outbound struct {
	Type      string     `json:"type"`
	Message   *Message   `json:"message,omitempty"`
	Messages  []*Message `json:"messages,omitempty"`
	Users     []UserRef  `json:"users,omitempty"`
	User      *UserRef   `json:"user,omitempty"`
	Room      string     `json:"room,omitempty"`
	MessageID string     `json:"messageId,omitempty"`
	UserID    int        `json:"userId,omitempty"`
	Reaction  string     `json:"reaction,omitempty"`
	Code      string     `json:"code,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}
