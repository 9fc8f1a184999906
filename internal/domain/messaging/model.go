package messaging

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/vivamoms/consult/internal/platform/apperror"
	"github.com/vivamoms/consult/internal/platform/attachment"
)

// Tombstone replaces the content of a deleted message.
const Tombstone = "This message has been deleted"

const maxContentLength = 4000

type Type string

const (
	TypeText   Type = "text"
	TypeImage  Type = "image"
	TypeAudio  Type = "audio"
	TypeFile   Type = "file"
	TypeSystem Type = "system"
)

var Types = []Type{TypeText, TypeImage, TypeAudio, TypeFile, TypeSystem}

func (t Type) Valid() bool {
	for _, v := range Types {
		if v == t {
			return true
		}
	}
	return false
}

// mediaPrefix is the MIME family an attachment on t must belong to.
func (t Type) mediaPrefix() string {
	switch t {
	case TypeImage:
		return "image/"
	case TypeAudio:
		return "audio/"
	}
	return ""
}

func (t Type) carriesAttachment() bool {
	return t == TypeImage || t == TypeAudio || t == TypeFile
}

type Message struct {
	ID             uuid.UUID            `json:"id"`
	ConsultationID uuid.UUID            `json:"consultation_id"`
	ThreadID       *string              `json:"thread_id,omitempty"`
	SenderID       uuid.UUID            `json:"sender_id"`
	RecipientID    uuid.UUID            `json:"recipient_id"`
	Type           Type                 `json:"message_type"`
	Content        string               `json:"content"`
	Attachment     *attachment.Metadata `json:"attachment,omitempty"`
	IsRead         bool                 `json:"is_read"`
	ReadAt         *time.Time           `json:"read_at,omitempty"`
	SentAt         time.Time            `json:"sent_at"`
	EditedAt       *time.Time           `json:"edited_at,omitempty"`
	IsDeleted      bool                 `json:"is_deleted"`
}

type SendInput struct {
	ConsultationID uuid.UUID            `json:"consultation_id"`
	RecipientID    uuid.UUID            `json:"recipient_id"`
	Type           Type                 `json:"message_type"`
	Content        string               `json:"content"`
	ThreadID       string               `json:"thread_id,omitempty"`
	Attachment     *attachment.Metadata `json:"attachment,omitempty"`
}

// Validate checks the shape of a participant message. Attachment contents
// are checked separately against the store.
func (in *SendInput) Validate() error {
	if in.ConsultationID == uuid.Nil {
		return apperror.Validation("consultation_id is required")
	}
	if in.RecipientID == uuid.Nil {
		return apperror.Validation("recipient_id is required")
	}
	if in.Type == "" {
		in.Type = TypeText
	}
	if !in.Type.Valid() {
		return apperror.Validation("invalid message_type %q", in.Type)
	}
	if in.Type == TypeSystem {
		return apperror.Validation("system messages cannot be sent by participants")
	}
	in.Content = strings.TrimSpace(in.Content)
	in.ThreadID = strings.TrimSpace(in.ThreadID)
	if in.Type.carriesAttachment() {
		if in.Attachment == nil {
			return apperror.Validation("%s messages require an attachment", in.Type)
		}
	} else {
		if in.Attachment != nil {
			return apperror.Validation("text messages cannot carry an attachment")
		}
		if in.Content == "" {
			return apperror.Validation("content is required")
		}
	}
	return validContent(in.Content)
}

func validContent(s string) error {
	if utf8.RuneCountInString(s) > maxContentLength {
		return apperror.Validation("content exceeds %d characters", maxContentLength)
	}
	return nil
}

// Query selects messages. Zero fields do not filter.
type Query struct {
	ConsultationID *uuid.UUID
	// Participant matches messages the user sent or received.
	Participant *uuid.UUID
	RecipientID *uuid.UUID
	// Between matches both directions of a two-user conversation.
	Between        *[2]uuid.UUID
	UnreadOnly     bool
	Type           Type
	Since          *time.Time
	Search         string
	IncludeDeleted bool
	NewestFirst    bool
	Limit          int
	Offset         int
}

// Stats summarises the messages of one user over a window.
type Stats struct {
	Total    int          `json:"total"`
	Sent     int          `json:"sent"`
	Received int          `json:"received"`
	Unread   int          `json:"unread"`
	ByType   map[Type]int `json:"by_type"`
}

// Summarize counts msgs from self's point of view.
func Summarize(msgs []*Message, self uuid.UUID) Stats {
	st := Stats{ByType: make(map[Type]int, len(Types))}
	for _, t := range Types {
		st.ByType[t] = 0
	}
	for _, m := range msgs {
		st.Total++
		st.ByType[m.Type]++
		if m.SenderID == self && m.Type != TypeSystem {
			st.Sent++
		}
		if m.RecipientID == self {
			st.Received++
			if !m.IsRead {
				st.Unread++
			}
		}
	}
	return st
}
