package post

import (
	"errors"
	"strings"
	"time"
)

const (
	KindText  = "text"
	KindImage = "image"
	KindVideo = "video"
	KindPoll  = "poll"
)

type Post struct {
	ID             int          `json:"id"`
	AuthorID       int          `json:"author_id"`
	AuthorUsername string       `json:"author_username"`
	PostType       string       `json:"post_type"`
	Content        string       `json:"content"`
	Image          string       `json:"image,omitempty"`
	Video          string       `json:"video,omitempty"`
	PollOptions    []PollOption `json:"poll_options,omitempty"`
	LikesCount     int          `json:"likes_count"`
	CommentsCount  int          `json:"comments_count"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type PollOption struct {
	ID         int    `json:"id"`
	OptionText string `json:"option_text"`
	VotesCount int    `json:"votes_count"`
}

type Comment struct {
	ID        int       `json:"id"`
	PostID    int       `json:"post_id"`
	UserID    int       `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateRequest struct {
	PostType    string   `json:"post_type"`
	Content     string   `json:"content"`
	Image       string   `json:"image"`
	Video       string   `json:"video"`
	PollOptions []string `json:"poll_options"`
}

// Validate enforces the per-kind required fields. Poll options are trimmed
// in place.
func (r *CreateRequest) Validate() error {
	if r.PostType == "" {
		r.PostType = KindText
	}
	switch r.PostType {
	case KindText:
		if strings.TrimSpace(r.Content) == "" {
			return errors.New("content is required for text posts")
		}
	case KindImage:
		if r.Image == "" {
			return errors.New("image is required for image posts")
		}
	case KindVideo:
		if r.Video == "" {
			return errors.New("video is required for video posts")
		}
	case KindPoll:
		options := r.PollOptions[:0]
		for _, opt := range r.PollOptions {
			if trimmed := strings.TrimSpace(opt); trimmed != "" {
				options = append(options, trimmed)
			}
		}
		r.PollOptions = options
		if len(r.PollOptions) < 2 {
			return errors.New("at least 2 options required for poll")
		}
	default:
		return errors.New("invalid post_type")
	}
	return nil
}
