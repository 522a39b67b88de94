// Package journal records finished dispatches in a SQL table for later
// inspection. It is an observability record only and is never replayed.
//
// Standalone deployments use an embedded SQLite file (modernc.org/sqlite);
// managed deployments point at Postgres through the pgx stdlib driver.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/chorus/internal/telemetry"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Entry is one recorded dispatch.
type Entry struct {
	DispatchID string
	Bot        string
	MessageID  string
	ChannelID  string
	GuildID    string
	Trigger    string
	Outcome    telemetry.Outcome
	Stage      telemetry.Stage
	Error      string
	Identity   time.Duration
	Render     time.Duration
	Delivery   time.Duration
	Total      time.Duration
	At         time.Time
}

// Journal is a dispatch table over database/sql.
type Journal struct {
	db     *sql.DB
	driver string
}

// Open connects to the journal database and creates the schema if needed.
// For sqlite, dsn is a file path; for postgres, a connection string.
func Open(ctx context.Context, driver, dsn string) (*Journal, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite:
		sqlDriver = "sqlite"
		if dsn == "" {
			return nil, errors.New("journal: empty sqlite path")
		}
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("journal: create directory: %w", err)
			}
		}
	case DriverPostgres:
		sqlDriver = "pgx"
		if dsn == "" {
			return nil, errors.New("journal: empty postgres dsn")
		}
	default:
		return nil, fmt.Errorf("journal: unknown driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer avoids SQLITE_BUSY under concurrent dispatches.
		db.SetMaxOpenConns(1)
	}
	j := &Journal{db: db, driver: driver}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close releases the database.
func (j *Journal) Close() error { return j.db.Close() }

// Record inserts one dispatch. Recording the same (dispatch, bot) twice is a no-op.
func (j *Journal) Record(ctx context.Context, ev telemetry.DispatchEvent) error {
	errText := ""
	if ev.Err != nil {
		errText = ev.Err.Error()
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	q := j.rebind(`INSERT INTO dispatches (
		dispatch_id, bot, message_id, channel_id, guild_id, trigger_name, outcome, stage, error,
		identity_us, render_us, delivery_us, total_us, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (dispatch_id, bot) DO NOTHING`)
	_, err := j.db.ExecContext(ctx, q,
		ev.DispatchID, ev.Bot, ev.MessageID, ev.ChannelID, ev.GuildID, ev.Trigger,
		string(ev.Outcome), string(ev.Stage), errText,
		ev.Identity.Microseconds(), ev.Render.Microseconds(), ev.Delivery.Microseconds(), ev.Total.Microseconds(),
		at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("journal: record dispatch %s/%s: %w", ev.DispatchID, ev.Bot, err)
	}
	return nil
}

// BotStats aggregates the dispatches of one bot.
type BotStats struct {
	Bot       string
	Outcomes  map[telemetry.Outcome]int
	Total     int
	AvgTotal  time.Duration // over delivered dispatches
	LastMatch time.Time     // zero when no trigger ever matched
}

// Stats aggregates dispatches recorded at or after since, ordered by bot name.
func (j *Journal) Stats(ctx context.Context, since time.Time) ([]BotStats, error) {
	q := j.rebind(`SELECT bot, outcome, COUNT(*),
		COALESCE(SUM(total_us), 0), COALESCE(MAX(created_at), 0)
		FROM dispatches WHERE created_at >= ?
		GROUP BY bot, outcome ORDER BY bot, outcome`)
	rows, err := j.db.QueryContext(ctx, q, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("journal: stats: %w", err)
	}
	defer rows.Close()

	var (
		out   []BotStats
		cur   *BotStats
		sumUS = map[string]int64{}
	)
	for rows.Next() {
		var (
			bot, outcome string
			count        int
			totalUS      int64
			lastMS       int64
		)
		if err := rows.Scan(&bot, &outcome, &count, &totalUS, &lastMS); err != nil {
			return nil, fmt.Errorf("journal: scan stats: %w", err)
		}
		if cur == nil || cur.Bot != bot {
			out = append(out, BotStats{Bot: bot, Outcomes: map[telemetry.Outcome]int{}})
			cur = &out[len(out)-1]
		}
		o := telemetry.Outcome(outcome)
		cur.Outcomes[o] = count
		cur.Total += count
		switch o {
		case telemetry.OutcomeDelivered:
			sumUS[bot] = totalUS
			fallthrough
		case telemetry.OutcomeDiscarded, telemetry.OutcomeFailed:
			if last := time.UnixMilli(lastMS); last.After(cur.LastMatch) {
				cur.LastMatch = last
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: stats: %w", err)
	}
	for i := range out {
		if n := out[i].Outcomes[telemetry.OutcomeDelivered]; n > 0 {
			out[i].AvgTotal = time.Duration(sumUS[out[i].Bot]/int64(n)) * time.Microsecond
		}
	}
	return out, nil
}

// Recent returns the newest dispatches, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	q := j.rebind(`SELECT dispatch_id, bot, message_id, channel_id, guild_id, trigger_name,
		outcome, stage, error, identity_us, render_us, delivery_us, total_us, created_at
		FROM dispatches ORDER BY created_at DESC, dispatch_id, bot LIMIT ?`)
	rows, err := j.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                          Entry
			outcome, stage             string
			idUS, renderUS, delUS, tUS int64
			atMS                       int64
		)
		if err := rows.Scan(&e.DispatchID, &e.Bot, &e.MessageID, &e.ChannelID, &e.GuildID, &e.Trigger,
			&outcome, &stage, &e.Error, &idUS, &renderUS, &delUS, &tUS, &atMS); err != nil {
			return nil, fmt.Errorf("journal: scan recent: %w", err)
		}
		e.Outcome = telemetry.Outcome(outcome)
		e.Stage = telemetry.Stage(stage)
		e.Identity = time.Duration(idUS) * time.Microsecond
		e.Render = time.Duration(renderUS) * time.Microsecond
		e.Delivery = time.Duration(delUS) * time.Microsecond
		e.Total = time.Duration(tUS) * time.Microsecond
		e.At = time.UnixMilli(atMS)
		out = append(out, e)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders to $n for postgres.
func (j *Journal) rebind(q string) string {
	if j.driver != DriverPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
