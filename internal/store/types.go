package store

import "time"

// ParentType discriminates the two kinds of map posts a chat hangs off.
type ParentType string

const (
	ParentMessage ParentType = "message"
	ParentGroup   ParentType = "group"
)

// Post is a map post row from the messages or groups table. Group-only
// fields are zero-valued for message posts.
type Post struct {
	ID                   string     `json:"id"`
	Type                 ParentType `json:"-"`
	Slug                 string     `json:"slug"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Latitude             float64    `json:"latitude"`
	Longitude            float64    `json:"longitude"`
	Category             string     `json:"category"`
	CreatedAt            time.Time  `json:"created_at"`
	CreatedBy            string     `json:"created_by"`
	LastMessageText      string     `json:"last_message_text"`
	LastMessageCreatedAt time.Time  `json:"last_message_created_at"`
	LastMessageUserID    string     `json:"last_message_user_id"`
	LastMessageUsername  string     `json:"last_message_username"`
	MessageCount         int        `json:"message_count"`
	CommentCount         int        `json:"comment_count"`
	AllowAnyoneToPost    bool       `json:"allow_anyone_to_post"`
	AllowComments        bool       `json:"allow_comments"`
	IsAdmin              bool       `json:"is_admin"`
}

// ChatMessage is a chat_messages row: one message in a post transcript.
type ChatMessage struct {
	ID           string     `json:"id"`
	ParentType   ParentType `json:"parent_type"`
	ParentID     string     `json:"parent_id"`
	Content      string     `json:"content"`
	PhotoURL     string     `json:"photo_url"`
	CreatedAt    time.Time  `json:"created_at"`
	CreatedBy    string     `json:"created_by"`
	CommentCount int        `json:"comment_count"`
}

// PostComment is a post_comments row: a comment thread under one chat message.
type PostComment struct {
	ID         string     `json:"id"`
	MessageID  string     `json:"message_id"`
	ParentType ParentType `json:"parent_type"`
	ParentID   string     `json:"parent_id"`
	Content    string     `json:"content"`
	CreatedBy  string     `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Profile is a profiles row.
type Profile struct {
	ID                 string    `json:"id"`
	Slug               string    `json:"slug"`
	Username           string    `json:"username"`
	AvatarURL          string    `json:"avatar_url"`
	AvatarThumbnailURL string    `json:"avatar_thumbnail_url"`
	Bio                string    `json:"bio"`
	AllowMessages      bool      `json:"allow_messages"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Friendship is a friendships row. Status is pending, accepted or rejected.
type Friendship struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	FriendID  string    `json:"friend_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PrivateMessage is a private_messages row.
type PrivateMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Message    string    `json:"message"`
	PhotoURL   string    `json:"photo_url"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"created_at"`
}

// MessageAttachment is a message_attachments row: a photo attached to one
// chat message, with its pre-generated thumbnail.
type MessageAttachment struct {
	ID           string    `json:"id"`
	MessageID    string    `json:"message_id"`
	FileURL      string    `json:"file_url"`
	FileType     string    `json:"file_type"`
	FileSize     int64     `json:"file_size"`
	ThumbnailURL string    `json:"thumbnail_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// PostAttachment is a post_attachments row: a photo attached to a map post.
type PostAttachment struct {
	ID           string     `json:"id"`
	PostType     ParentType `json:"post_type"`
	PostID       string     `json:"post_id"`
	FileURL      string     `json:"file_url"`
	ThumbnailURL string     `json:"thumbnail_url"`
	FileType     string     `json:"file_type"`
	FileSize     int64      `json:"file_size"`
	DisplayOrder int        `json:"display_order"`
	CreatedAt    time.Time  `json:"created_at"`
}

// SavedLocation is a saved_locations row.
type SavedLocation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chat is a local conversation preview row, maintained by the sync engine
// so chat lists render without waiting for the backend.
type Chat struct {
	ParentType          ParentType
	ParentID            string
	Title               string
	LastMessageText     string
	LastMessageAt       int64
	LastMessageUsername string
	UnreadCount         int
}

// SavedView is a locally cached map view (coordinate + zoom) with a
// freshness window enforced at read time.
type SavedView struct {
	Key       string
	Latitude  float64
	Longitude float64
	Zoom      float64
	SavedAt   int64
}
