package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Postgres implements Searcher with an ILIKE scan over clients as a fallback
// when Meilisearch is unavailable.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Healthy always reports true. If Postgres is down, the whole app is down.
func (p *Postgres) Healthy() bool {
	return true
}

func (p *Postgres) Search(q Query) ([]Result, int, error) {
	return p.SearchContext(context.Background(), q)
}

func (p *Postgres) SearchContext(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" && q.FilterStatus == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + strings.TrimSpace(q.Text) + "%"
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, phone, status,
			COALESCE(project, ''), COALESCE(city, ''), COALESCE(campaign, ''),
			COUNT(*) OVER () AS total
		FROM clients
		WHERE ($1 = '%%' OR name ILIKE $1 OR phone ILIKE $1 OR COALESCE(email, '') ILIKE $1
			OR COALESCE(project, '') ILIKE $1 OR COALESCE(campaign, '') ILIKE $1 OR COALESCE(city, '') ILIKE $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, pattern, q.FilterStatus, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search clients: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	total := 0
	for rows.Next() {
		var item Result
		if err := rows.Scan(&item.ID, &item.Name, &item.Phone, &item.Status, &item.Project, &item.City, &item.Campaign, &total); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate search results: %w", err)
	}
	return results, total, nil
}

// LoadAllRecords reads every client for reindexing into Meilisearch.
func (p *Postgres) LoadAllRecords(ctx context.Context) ([]ClientRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, phone, COALESCE(email, ''), status,
			COALESCE(project, ''), COALESCE(city, ''), COALESCE(campaign, '')
		FROM clients
	`)
	if err != nil {
		return nil, fmt.Errorf("load clients for reindex: %w", err)
	}
	defer rows.Close()

	records := make([]ClientRecord, 0)
	for rows.Next() {
		var record ClientRecord
		if err := rows.Scan(&record.ID, &record.Name, &record.Phone, &record.Email, &record.Status, &record.Project, &record.City, &record.Campaign); err != nil {
			return nil, fmt.Errorf("scan reindex record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reindex records: %w", err)
	}
	return records, nil
}
