package problem

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRepository reads problems from the problems table.
type PostgresRepository struct {
	db *sql.DB
}

// OpenDB opens and pings a Postgres pool with the service's pool limits.
func OpenDB(databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectProblem = `SELECT id, slug, title, description, time_minutes, templates, test_cases FROM problems`

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Problem, error) {
	row := r.db.QueryRowContext(ctx, selectProblem+` WHERE id = $1`, strings.TrimSpace(id))
	return scanProblem(row)
}

// Random counts the candidates and reads one at a random offset.
func (r *PostgresRepository) Random(ctx context.Context, minutes int) (*Problem, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM problems WHERE time_minutes = $1`, minutes).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoProblem
	}
	row := r.db.QueryRowContext(ctx, selectProblem+` WHERE time_minutes = $1 ORDER BY id OFFSET $2 LIMIT 1`, minutes, rand.Intn(n))
	p, err := scanProblem(row)
	if errors.Is(err, ErrNotFound) {
		// a concurrent delete shrank the set
		return nil, ErrNoProblem
	}
	return p, err
}

func (r *PostgresRepository) Upsert(ctx context.Context, p *Problem) error {
	if err := validate(p); err != nil {
		return err
	}
	templates, err := json.Marshal(p.Templates)
	if err != nil {
		return err
	}
	cases, err := json.Marshal(p.TestCases)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO problems (
        id, slug, title, description, time_minutes, templates, test_cases
      ) VALUES ($1,$2,$3,$4,$5,$6,$7)
      ON CONFLICT (id) DO UPDATE SET
        slug=EXCLUDED.slug,
        title=EXCLUDED.title,
        description=EXCLUDED.description,
        time_minutes=EXCLUDED.time_minutes,
        templates=EXCLUDED.templates,
        test_cases=EXCLUDED.test_cases`,
		p.ID, p.Slug, p.Title, p.Description, p.TimeMinutes, string(templates), string(cases),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProblem(row rowScanner) (*Problem, error) {
	var (
		p         Problem
		templates []byte
		cases     []byte
	)
	err := row.Scan(&p.ID, &p.Slug, &p.Title, &p.Description, &p.TimeMinutes, &templates, &cases)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(templates) > 0 {
		if err := json.Unmarshal(templates, &p.Templates); err != nil {
			return nil, fmt.Errorf("decode templates: %w", err)
		}
	}
	if err := json.Unmarshal(cases, &p.TestCases); err != nil {
		return nil, fmt.Errorf("decode test cases: %w", err)
	}
	return &p, nil
}
