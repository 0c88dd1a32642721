package models

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

const MaxNoteLength = 1000

var ErrInvalidNote = errors.New("note must be between 1 and 1000 characters")

// StaffNote is a free-text remark moderators keep on a member.
type StaffNote struct {
	ID        string       `json:"id"`
	AuthorID  snowflake.ID `json:"authorId"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"createdAt"`
}

func NewStaffNote(authorID snowflake.ID, content string, at time.Time) (StaffNote, error) {
	note := StaffNote{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: at.UTC(),
	}
	return note, note.validate()
}

func (n StaffNote) validate() error {
	l := utf8.RuneCountInString(n.Content)
	if l < 1 || l > MaxNoteLength {
		return ErrInvalidNote
	}
	return nil
}
