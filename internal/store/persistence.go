package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// PersistenceConfig selects and configures the optional SQL-backed baseline
// persistence layer (spec.md §6, "Persisted state"). Driver is one of
// "sqlite3", "postgres", or "mysql" — the three database/sql drivers the
// teacher already depends on for its own database config (config/database.go).
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
}

func (c *PersistenceConfig) SetDefaults() {
	if !c.Enabled {
		return
	}
	if c.Driver == "" {
		c.Driver = "sqlite3"
	}
	if c.DSN == "" && c.Driver == "sqlite3" {
		c.DSN = "file:beamlens_baselines.db?cache=shared&_journal_mode=WAL"
	}
}

func (c *PersistenceConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return fmt.Errorf("store: unsupported persistence driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("store: dsn is required for driver %q", c.Driver)
	}
	return nil
}

// SQLPersister implements Persister on top of database/sql, using a single
// table keyed by (skill, metric). Baselines are advisory: callers treat a
// missing row/table the same as a cold start.
type SQLPersister struct {
	db     *sql.DB
	driver string
}

// OpenSQLPersister opens (and migrates) the baseline persistence table.
func OpenSQLPersister(cfg PersistenceConfig) (*SQLPersister, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", cfg.Driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", cfg.Driver, err)
	}

	p := &SQLPersister{db: db, driver: cfg.Driver}
	if err := p.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

func (p *SQLPersister) migrate() error {
	ddl := `CREATE TABLE IF NOT EXISTS beamlens_baselines (
		skill TEXT NOT NULL,
		metric TEXT NOT NULL,
		mean DOUBLE PRECISION NOT NULL,
		std_dev DOUBLE PRECISION NOT NULL,
		p50 DOUBLE PRECISION NOT NULL,
		p95 DOUBLE PRECISION NOT NULL,
		p99 DOUBLE PRECISION NOT NULL,
		sample_count INTEGER NOT NULL,
		last_updated TIMESTAMP NOT NULL,
		PRIMARY KEY (skill, metric)
	)`
	_, err := p.db.Exec(ddl)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// SaveBaseline upserts one baseline row.
func (p *SQLPersister) SaveBaseline(b Baseline) error {
	var query string
	switch p.driver {
	case "postgres":
		query = `INSERT INTO beamlens_baselines (skill, metric, mean, std_dev, p50, p95, p99, sample_count, last_updated)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (skill, metric) DO UPDATE SET
				mean=EXCLUDED.mean, std_dev=EXCLUDED.std_dev, p50=EXCLUDED.p50, p95=EXCLUDED.p95,
				p99=EXCLUDED.p99, sample_count=EXCLUDED.sample_count, last_updated=EXCLUDED.last_updated`
	default: // sqlite3, mysql both understand REPLACE INTO
		query = `REPLACE INTO beamlens_baselines (skill, metric, mean, std_dev, p50, p95, p99, sample_count, last_updated)
			VALUES (?,?,?,?,?,?,?,?,?)`
	}

	_, err := p.db.Exec(query, b.Skill, b.Metric, b.Mean, b.StdDev, b.P50, b.P95, b.P99, b.SampleCount, b.LastUpdated)
	if err != nil {
		return fmt.Errorf("store: save baseline %s/%s: %w", b.Skill, b.Metric, err)
	}
	return nil
}

// LoadBaselines reads every persisted baseline row.
func (p *SQLPersister) LoadBaselines() ([]Baseline, error) {
	rows, err := p.db.Query(`SELECT skill, metric, mean, std_dev, p50, p95, p99, sample_count, last_updated FROM beamlens_baselines`)
	if err != nil {
		return nil, fmt.Errorf("store: load baselines: %w", err)
	}
	defer rows.Close()

	var out []Baseline
	for rows.Next() {
		var b Baseline
		var lastUpdated time.Time
		if err := rows.Scan(&b.Skill, &b.Metric, &b.Mean, &b.StdDev, &b.P50, &b.P95, &b.P99, &b.SampleCount, &lastUpdated); err != nil {
			return nil, fmt.Errorf("store: scan baseline row: %w", err)
		}
		b.LastUpdated = lastUpdated
		b.EMA = b.Mean
		out = append(out, b)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (p *SQLPersister) Close() error {
	return p.db.Close()
}
