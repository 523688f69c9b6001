package post

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrNotFound      = errors.New("post not found")
	ErrOptionInvalid = errors.New("option does not belong to this poll")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const postColumns = `
	SELECT p.id, p.author_id, u.username, p.post_type, p.content, p.image, p.video,
	       p.created_at, p.updated_at,
	       (SELECT COUNT(*) FROM likes l WHERE l.post_id = p.id),
	       (SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id)
	FROM posts p
	JOIN users u ON u.id = p.author_id
`

func (r *Repository) ListPosts(ctx context.Context) ([]Post, error) {
	return r.queryPosts(ctx, postColumns+" ORDER BY p.created_at DESC")
}

func (r *Repository) ListByAuthor(ctx context.Context, authorID int) ([]Post, error) {
	return r.queryPosts(ctx, postColumns+" WHERE p.author_id = $1 ORDER BY p.created_at DESC", authorID)
}

func (r *Repository) GetPost(ctx context.Context, id int) (*Post, error) {
	posts, err := r.queryPosts(ctx, postColumns+" WHERE p.id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return nil, ErrNotFound
	}
	return &posts[0], nil
}

func (r *Repository) CreatePost(ctx context.Context, authorID int, req *CreateRequest) (*Post, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO posts (author_id, post_type, content, image, video)
		VALUES ($1, $2, $3, $4, $5) RETURNING id
	`, authorID, req.PostType, req.Content, req.Image, req.Video).Scan(&id)
	if err != nil {
		return nil, err
	}

	if req.PostType == KindPoll {
		for _, opt := range req.PollOptions {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO poll_options (post_id, option_text) VALUES ($1, $2)", id, opt); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.GetPost(ctx, id)
}

func (r *Repository) DeletePost(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM posts WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleLike likes the post, or removes the like when one already exists.
// Returns the new liked state and like count.
func (r *Repository) ToggleLike(ctx context.Context, userID, postID int) (bool, int, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO likes (user_id, post_id) VALUES ($1, $2)
		ON CONFLICT (user_id, post_id) DO NOTHING
	`, userID, postID)
	if err != nil {
		return false, 0, err
	}

	inserted, _ := res.RowsAffected()
	liked := inserted > 0
	if !liked {
		if _, err := r.db.ExecContext(ctx,
			"DELETE FROM likes WHERE user_id = $1 AND post_id = $2", userID, postID); err != nil {
			return false, 0, err
		}
	}

	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM likes WHERE post_id = $1", postID).Scan(&count); err != nil {
		return false, 0, err
	}
	return liked, count, nil
}

func (r *Repository) ListComments(ctx context.Context, postID int) ([]Comment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.post_id, c.user_id, u.username, c.content, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.post_id = $1
		ORDER BY c.created_at ASC
	`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.UserID, &c.Username, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (r *Repository) AddComment(ctx context.Context, postID, userID int, content string) (*Comment, error) {
	c := &Comment{PostID: postID, UserID: userID, Content: content}
	err := r.db.QueryRowContext(ctx, `
		WITH c AS (
			INSERT INTO comments (post_id, user_id, content) VALUES ($1, $2, $3)
			RETURNING id, user_id, created_at
		)
		SELECT c.id, u.username, c.created_at FROM c JOIN users u ON u.id = c.user_id
	`, postID, userID, content).Scan(&c.ID, &c.Username, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Vote records the user's choice on a poll. A re-vote moves the vote: any
// previous vote on the same poll is removed first.
func (r *Repository) Vote(ctx context.Context, userID, postID, optionID int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var belongs bool
	if err := tx.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM poll_options WHERE id = $1 AND post_id = $2)",
		optionID, postID).Scan(&belongs); err != nil {
		return err
	}
	if !belongs {
		return ErrOptionInvalid
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM poll_votes
		WHERE user_id = $1 AND option_id IN (SELECT id FROM poll_options WHERE post_id = $2)
	`, userID, postID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO poll_votes (user_id, option_id) VALUES ($1, $2)", userID, optionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) queryPosts(ctx context.Context, query string, args ...any) ([]Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.AuthorID, &p.AuthorUsername, &p.PostType, &p.Content,
			&p.Image, &p.Video, &p.CreatedAt, &p.UpdatedAt,
			&p.LikesCount, &p.CommentsCount); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range posts {
		if posts[i].PostType != KindPoll {
			continue
		}
		if posts[i].PollOptions, err = r.pollOptionsOf(ctx, posts[i].ID); err != nil {
			return nil, err
		}
	}
	return posts, nil
}

func (r *Repository) pollOptionsOf(ctx context.Context, postID int) ([]PollOption, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.option_text,
		       (SELECT COUNT(*) FROM poll_votes v WHERE v.option_id = o.id)
		FROM poll_options o
		WHERE o.post_id = $1
		ORDER BY o.id
	`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var options []PollOption
	for rows.Next() {
		var o PollOption
		if err := rows.Scan(&o.ID, &o.OptionText, &o.VotesCount); err != nil {
			return nil, err
		}
		options = append(options, o)
	}
	return options, rows.Err()
}
