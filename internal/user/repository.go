package user

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned when a lookup matches no user.
var ErrNotFound = errors.New("user not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, u *User) (*User, error) {
	var id int
	query := `INSERT INTO users (username, password, display_name, user_type, mobile_number, bio)
	          VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6) RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		u.Username, u.Password, u.DisplayName, u.UserType, u.MobileNumber, u.Bio).Scan(&id)
	if err != nil {
		return nil, err
	}

	u.ID = id
	return u, nil
}

func (r *Repository) GetByID(ctx context.Context, id int) (*User, error) {
	u := &User{}
	query := `SELECT id, username, password, display_name, user_type, COALESCE(mobile_number, ''), bio, created_at
	          FROM users WHERE id = $1`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.Password, &u.DisplayName, &u.UserType, &u.MobileNumber, &u.Bio, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	u := &User{}
	query := `SELECT id, username, password, display_name, user_type, COALESCE(mobile_number, ''), bio, created_at
	          FROM users WHERE username = $1`

	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.Password, &u.DisplayName, &u.UserType, &u.MobileNumber, &u.Bio, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return u, nil
}

func (r *Repository) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)", username).Scan(&exists)
	return exists, err
}

func (r *Repository) UpdateProfile(ctx context.Context, id int, displayName, bio string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET display_name = $2, bio = $3 WHERE id = $1", id, displayName, bio)
	return err
}

func (r *Repository) UpdatePassword(ctx context.Context, id int, hashed string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE users SET password = $2 WHERE id = $1", id, hashed)
	return err
}

// SearchUsers matches usernames case-insensitively, excluding the searcher.
// We limit to 20 to keep it fast.
func (r *Repository) SearchUsers(ctx context.Context, query string, excludeID int) ([]User, error) {
	q := `SELECT id, username, display_name, user_type FROM users
	      WHERE username ILIKE $1 AND id <> $2 LIMIT 20`
	rows, err := r.db.QueryContext(ctx, q, "%"+query+"%", excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.UserType); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
