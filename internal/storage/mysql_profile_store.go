package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const upsertProfileQuery = `
	INSERT INTO player_profiles (username, x, y, z, qx, qy, qz, qw, health, score, saved_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		x = VALUES(x), y = VALUES(y), z = VALUES(z),
		qx = VALUES(qx), qy = VALUES(qy), qz = VALUES(qz), qw = VALUES(qw),
		health = VALUES(health),
		score = VALUES(score),
		saved_at = VALUES(saved_at)
`

// MySQLProfileStore хранит профили в MariaDB/MySQL, таблица player_profiles
type MySQLProfileStore struct {
	db *sql.DB
}

// NewMySQLProfileStore подключается по dsn (user:pass@tcp(host:port)/dbname?parseTime=true)
// и создаёт таблицу, если её нет.
func NewMySQLProfileStore(ctx context.Context, dsn string) (*MySQLProfileStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MySQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MySQL: %w", err)
	}
	s := &MySQLProfileStore{db: db}
	if err := s.createTable(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLProfileStore) createTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS player_profiles (
			username VARCHAR(64) PRIMARY KEY,
			x        DOUBLE      NOT NULL,
			y        DOUBLE      NOT NULL,
			z        DOUBLE      NOT NULL,
			qx       DOUBLE      NOT NULL DEFAULT 0,
			qy       DOUBLE      NOT NULL DEFAULT 0,
			qz       DOUBLE      NOT NULL DEFAULT 0,
			qw       DOUBLE      NOT NULL DEFAULT 1,
			health   INT         NOT NULL,
			score    INT UNSIGNED NOT NULL,
			saved_at DATETIME(3) NOT NULL,
			INDEX idx_saved_at (saved_at)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ошибка создания таблицы player_profiles: %w", err)
	}
	return nil
}

func profileArgs(p Profile) []any {
	savedAt := p.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	return []any{p.Username,
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Rotation.W,
		p.Health, p.Score, savedAt.UTC()}
}

func (s *MySQLProfileStore) Save(ctx context.Context, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertProfileQuery, profileArgs(p)...); err != nil {
		return fmt.Errorf("ошибка сохранения профиля %s: %w", p.Username, err)
	}
	return nil
}

func (s *MySQLProfileStore) Load(ctx context.Context, username string) (Profile, bool, error) {
	query := `SELECT username, x, y, z, qx, qy, qz, qw, health, score, saved_at
		FROM player_profiles WHERE username = ?`
	var p Profile
	err := s.db.QueryRowContext(ctx, query, username).Scan(&p.Username,
		&p.Position.X, &p.Position.Y, &p.Position.Z,
		&p.Rotation.X, &p.Rotation.Y, &p.Rotation.Z, &p.Rotation.W,
		&p.Health, &p.Score, &p.SavedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("ошибка загрузки профиля %s: %w", username, err)
	}
	return p, true, nil
}

func (s *MySQLProfileStore) Delete(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM player_profiles WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("ошибка удаления профиля %s: %w", username, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения количества затронутых строк: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// BatchSave пишет все профили в одной транзакции
func (s *MySQLProfileStore) BatchSave(ctx context.Context, profiles []Profile) error {
	if len(profiles) == 0 {
		return nil
	}
	if err := validateAll(profiles); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertProfileQuery)
	if err != nil {
		return fmt.Errorf("ошибка подготовки запроса: %w", err)
	}
	defer stmt.Close()

	for _, p := range profiles {
		if _, err := stmt.ExecContext(ctx, profileArgs(p)...); err != nil {
			return fmt.Errorf("ошибка сохранения профиля %s в batch: %w", p.Username, err)
		}
	}
	return tx.Commit()
}

func (s *MySQLProfileStore) Close() error { return s.db.Close() }
