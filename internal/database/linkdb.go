package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/onionscout/internal/model"
)

// FileName is the name of the catalog file inside the database directory.
const FileName = "onionscout.db"

// ErrNotFound is returned when a URL is not catalogued.
var ErrNotFound = errors.New("link not found")

// timeLayout has a fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// LinkDB is the SQLite link catalog.
type LinkDB struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
	logger *slog.Logger
}

// Options configures LinkDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool

	// Now overrides the clock used for last_checked and history timestamps.
	Now func() time.Time

	// Logger receives catalog events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the catalog in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*LinkDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection also serializes our writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	ldb := &LinkDB{
		db:     db,
		dbPath: dbPath,
		now:    opts.Now,
		logger: opts.Logger,
	}
	if ldb.now == nil {
		ldb.now = time.Now
	}
	if ldb.logger == nil {
		ldb.logger = slog.Default()
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := ldb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return ldb, nil
}

// Path returns the database file path.
func (ldb *LinkDB) Path() string {
	return ldb.dbPath
}

// Close closes the database connection.
func (ldb *LinkDB) Close() error {
	return ldb.db.Close()
}

func (ldb *LinkDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS onion_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		content_preview TEXT NOT NULL DEFAULT '',
		last_checked TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'new',
		discovery_source TEXT NOT NULL DEFAULT '',
		trust_score REAL NOT NULL DEFAULT 0.0,
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_links_category ON onion_links(category);
	CREATE INDEX IF NOT EXISTS idx_links_status ON onion_links(status);
	CREATE INDEX IF NOT EXISTS idx_links_last_checked ON onion_links(last_checked);

	CREATE TABLE IF NOT EXISTS crawl_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		link_id INTEGER NOT NULL REFERENCES onion_links(id),
		crawl_date TEXT NOT NULL,
		outcome TEXT NOT NULL,
		response_time_ms INTEGER,
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_history_link ON crawl_history(link_id);
	`

	_, err := ldb.db.ExecContext(context.Background(), schema)
	return err
}

// AddLink inserts a link with status new. It reports false without error
// when the URL is already catalogued.
func (ldb *LinkDB) AddLink(ctx context.Context, link model.NewLink) (bool, error) {
	return ldb.insert(ctx, link, model.StatusNew, "")
}

func (ldb *LinkDB) insert(ctx context.Context, link model.NewLink, status model.Status, preview string) (bool, error) {
	if strings.TrimSpace(link.URL) == "" {
		return false, errors.New("link URL is empty")
	}

	tags, meta, err := encodeTagsAndMetadata(link.Tags, link.Metadata)
	if err != nil {
		return false, err
	}

	query := `
	INSERT OR IGNORE INTO onion_links
		(url, title, description, category, content_preview, last_checked, status, discovery_source, tags, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := ldb.db.ExecContext(ctx, query,
		link.URL,
		link.Title,
		link.Description,
		link.Category,
		preview,
		ldb.timestamp(),
		string(status),
		link.DiscoverySource,
		tags,
		meta,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add link %s: %w", link.URL, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to add link %s: %w", link.URL, err)
	}
	if n == 0 {
		ldb.logger.Debug("link already catalogued", "url", link.URL)
		return false, nil
	}
	ldb.logger.Debug("added link", "url", link.URL, "source", link.DiscoverySource)
	return true, nil
}

// UpdateLink applies patch to the link at url and refreshes last_checked.
// Metadata keys are merged into the stored object. It reports false when
// no link matched. A blacklisted link keeps its status: patches that try
// to change it do not match.
func (ldb *LinkDB) UpdateLink(ctx context.Context, url string, patch *model.LinkPatch) (bool, error) {
	if patch == nil {
		patch = model.Patch()
	}

	sets := []string{"last_checked = ?"}
	args := []any{ldb.timestamp()}
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.ContentPreview != nil {
		add("content_preview", *patch.ContentPreview)
	}
	if patch.Status != nil {
		add("status", string(*patch.Status))
	}
	if patch.TrustScore != nil {
		add("trust_score", *patch.TrustScore)
	}
	if patch.Tags != nil {
		b, err := json.Marshal(patch.Tags)
		if err != nil {
			return false, fmt.Errorf("failed to serialize tags: %w", err)
		}
		add("tags", string(b))
	}
	if patch.Metadata != nil {
		b, err := json.Marshal(patch.Metadata)
		if err != nil {
			return false, fmt.Errorf("failed to serialize metadata: %w", err)
		}
		sets = append(sets, "metadata = json_patch(COALESCE(NULLIF(metadata, ''), '{}'), ?)")
		args = append(args, string(b))
	}

	query := "UPDATE onion_links SET " + strings.Join(sets, ", ") + " WHERE url = ?" //nolint:gosec // column names are constants
	args = append(args, url)
	if patch.Status != nil && *patch.Status != model.StatusBlacklisted {
		query += " AND status != 'blacklisted'"
	}

	result, err := ldb.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update link %s: %w", url, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update link %s: %w", url, err)
	}
	return n > 0, nil
}

// UpdateLinkStatus sets the status of the link at url.
func (ldb *LinkDB) UpdateLinkStatus(ctx context.Context, url string, status model.Status) (bool, error) {
	return ldb.UpdateLink(ctx, url, model.Patch().WithStatus(status))
}

// Blacklist marks url as blacklisted and records the reason in its metadata.
func (ldb *LinkDB) Blacklist(ctx context.Context, url, reason string) (bool, error) {
	query := `
	UPDATE onion_links SET
		status = 'blacklisted',
		last_checked = ?,
		metadata = json_set(COALESCE(NULLIF(metadata, ''), '{}'), '$.blacklist_reason', ?, '$.blacklist_date', ?)
	WHERE url = ?
	`
	now := ldb.timestamp()
	result, err := ldb.db.ExecContext(ctx, query, now, reason, now, url)
	if err != nil {
		return false, fmt.Errorf("failed to blacklist %s: %w", url, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to blacklist %s: %w", url, err)
	}
	if n > 0 {
		ldb.logger.Info("link blacklisted", "url", url, "reason", reason)
	}
	return n > 0, nil
}

// AddCrawlHistory appends entry to the history of its URL. It reports false
// when the URL is not catalogued. A zero Timestamp is set to now.
func (ldb *LinkDB) AddCrawlHistory(ctx context.Context, entry model.CrawlHistoryEntry) (bool, error) {
	var linkID int64
	err := ldb.db.QueryRowContext(ctx, "SELECT id FROM onion_links WHERE url = ?", entry.URL).Scan(&linkID)
	if errors.Is(err, sql.ErrNoRows) {
		ldb.logger.Debug("crawl history for unknown url", "url", entry.URL)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up link %s: %w", entry.URL, err)
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = ldb.now()
	}
	var rt sql.NullInt64
	if entry.ResponseTime > 0 {
		rt = sql.NullInt64{Int64: entry.ResponseTime.Milliseconds(), Valid: true}
	}

	query := `
	INSERT INTO crawl_history (link_id, crawl_date, outcome, response_time_ms, error_message)
	VALUES (?, ?, ?, ?, ?)
	`
	if _, err := ldb.db.ExecContext(ctx, query, linkID, formatTime(ts), string(entry.Outcome), rt, entry.ErrorMessage); err != nil {
		return false, fmt.Errorf("failed to add crawl history for %s: %w", entry.URL, err)
	}
	return true, nil
}

// CrawlHistory returns the newest history entries of url first.
func (ldb *LinkDB) CrawlHistory(ctx context.Context, url string, limit int) ([]model.CrawlHistoryEntry, error) {
	query := `
	SELECT l.url, h.crawl_date, h.outcome, h.response_time_ms, h.error_message
	FROM crawl_history h
	JOIN onion_links l ON l.id = h.link_id
	WHERE l.url = ?
	ORDER BY h.crawl_date DESC, h.id DESC
	LIMIT ?
	`
	rows, err := ldb.db.QueryContext(ctx, query, url, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl history: %w", err)
	}
	defer rows.Close()

	entries := make([]model.CrawlHistoryEntry, 0)
	for rows.Next() {
		var (
			e       model.CrawlHistoryEntry
			date    string
			outcome string
			rt      sql.NullInt64
		)
		if err := rows.Scan(&e.URL, &date, &outcome, &rt, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan crawl history: %w", err)
		}
		e.Timestamp = parseTimestamp(date)
		e.Outcome = model.Outcome(outcome)
		if rt.Valid {
			e.ResponseTime = time.Duration(rt.Int64) * time.Millisecond
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const linkColumns = `id, url, title, description, category, content_preview, last_checked,
	status, discovery_source, trust_score, tags, metadata`

// Get returns the link stored for url, or ErrNotFound.
func (ldb *LinkDB) Get(ctx context.Context, url string) (*model.LinkRecord, error) {
	rows, err := ldb.db.QueryContext(ctx, "SELECT "+linkColumns+" FROM onion_links WHERE url = ?", url)
	if err != nil {
		return nil, fmt.Errorf("failed to get link %s: %w", url, err)
	}
	links, err := scanLinks(rows)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	}
	return &links[0], nil
}

// LinksByCategory returns up to limit links of category, most trusted and
// most recently checked first.
func (ldb *LinkDB) LinksByCategory(ctx context.Context, category string, limit int) ([]model.LinkRecord, error) {
	return ldb.queryLinks(ctx, `
	SELECT `+linkColumns+` FROM onion_links
	WHERE category = ?
	ORDER BY trust_score DESC, last_checked DESC
	LIMIT ?`, category, normalizeLimit(limit))
}

// LinksByStatus returns up to limit links with status, most trusted and
// least recently checked first.
func (ldb *LinkDB) LinksByStatus(ctx context.Context, status model.Status, limit int) ([]model.LinkRecord, error) {
	return ldb.queryLinks(ctx, `
	SELECT `+linkColumns+` FROM onion_links
	WHERE status = ?
	ORDER BY trust_score DESC, last_checked ASC
	LIMIT ?`, string(status), normalizeLimit(limit))
}

// UncheckedLinks returns links due for a crawl: every link with status new,
// plus links not checked within olderThan that are not blacklisted. With
// olderThan <= 0 only new links are returned. Stalest links come first.
func (ldb *LinkDB) UncheckedLinks(ctx context.Context, limit int, olderThan time.Duration) ([]model.LinkRecord, error) {
	if olderThan <= 0 {
		return ldb.queryLinks(ctx, `
		SELECT `+linkColumns+` FROM onion_links
		WHERE status = 'new'
		ORDER BY id DESC
		LIMIT ?`, normalizeLimit(limit))
	}
	cutoff := formatTime(ldb.now().Add(-olderThan))
	return ldb.queryLinks(ctx, `
	SELECT `+linkColumns+` FROM onion_links
	WHERE status = 'new' OR (last_checked < ? AND status != 'blacklisted')
	ORDER BY last_checked ASC, trust_score DESC
	LIMIT ?`, cutoff, normalizeLimit(limit))
}

// Search returns links whose URL, title or description contains query.
func (ldb *LinkDB) Search(ctx context.Context, query string, limit int) ([]model.LinkRecord, error) {
	pattern := "%" + escapeLike(query) + "%"
	return ldb.queryLinks(ctx, `
	SELECT `+linkColumns+` FROM onion_links
	WHERE url LIKE ? ESCAPE '\' OR title LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'
	ORDER BY trust_score DESC
	LIMIT ?`, pattern, pattern, pattern, normalizeLimit(limit))
}

// Links returns every link, optionally restricted to one category.
func (ldb *LinkDB) Links(ctx context.Context, category string) ([]model.LinkRecord, error) {
	if category == "" {
		return ldb.queryLinks(ctx, "SELECT "+linkColumns+" FROM onion_links ORDER BY id")
	}
	return ldb.queryLinks(ctx, "SELECT "+linkColumns+" FROM onion_links WHERE category = ? ORDER BY id", category)
}

// Statistics aggregates the catalog.
func (ldb *LinkDB) Statistics(ctx context.Context) (*model.CatalogStats, error) {
	stats := &model.CatalogStats{}

	if err := ldb.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM onion_links").Scan(&stats.TotalLinks); err != nil {
		return nil, fmt.Errorf("failed to count links: %w", err)
	}

	var err error
	if stats.StatusCounts, err = ldb.countBy(ctx, "status"); err != nil {
		return nil, err
	}
	if stats.CategoryCounts, err = ldb.countBy(ctx, "category"); err != nil {
		return nil, err
	}
	if stats.DiscoverySources, err = ldb.countBy(ctx, "discovery_source"); err != nil {
		return nil, err
	}

	var newest, date string
	err = ldb.db.QueryRowContext(ctx, "SELECT url, last_checked FROM onion_links ORDER BY last_checked DESC LIMIT 1").Scan(&newest, &date)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to find newest link: %w", err)
	default:
		stats.NewestLink = newest
		stats.NewestLinkDate = parseTimestamp(date)
	}
	return stats, nil
}

// countBy groups links by one of a fixed set of columns.
func (ldb *LinkDB) countBy(ctx context.Context, column string) (map[string]int, error) {
	rows, err := ldb.db.QueryContext(ctx, "SELECT "+column+", COUNT(*) FROM onion_links GROUP BY "+column) //nolint:gosec // column is a constant
	if err != nil {
		return nil, fmt.Errorf("failed to count by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// exportedLink is the JSON form used by Export and Import.
type exportedLink struct {
	URL             string         `json:"url"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Category        string         `json:"category"`
	Status          model.Status   `json:"status"`
	DiscoverySource string         `json:"discovery_source"`
	Tags            []string       `json:"tags"`
	Metadata        map[string]any `json:"metadata"`
}

// Export writes the links of category (all when empty) to w as a JSON array
// and returns how many were written.
func (ldb *LinkDB) Export(ctx context.Context, w io.Writer, category string) (int, error) {
	links, err := ldb.Links(ctx, category)
	if err != nil {
		return 0, err
	}

	out := make([]exportedLink, 0, len(links))
	for _, l := range links {
		out = append(out, exportedLink{
			URL:             l.URL,
			Title:           l.Title,
			Description:     l.Description,
			Category:        l.Category,
			Status:          l.Status,
			DiscoverySource: l.DiscoverySource,
			Tags:            l.Tags,
			Metadata:        l.Metadata,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}
	return len(out), nil
}

// Import reads a JSON array written by Export and inserts the links that are
// not catalogued yet. It returns the number of inserted links.
func (ldb *LinkDB) Import(ctx context.Context, r io.Reader) (int, error) {
	var in []exportedLink
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return 0, fmt.Errorf("failed to parse import: %w", err)
	}

	imported := 0
	for _, l := range in {
		status := l.Status
		if _, err := model.ParseStatus(string(status)); err != nil {
			status = model.StatusNew
		}
		source := l.DiscoverySource
		if source == "" {
			source = "import"
		}
		added, err := ldb.insert(ctx, model.NewLink{
			URL:             l.URL,
			Title:           l.Title,
			Description:     l.Description,
			Category:        l.Category,
			DiscoverySource: source,
			Tags:            l.Tags,
			Metadata:        l.Metadata,
		}, status, "")
		if err != nil {
			return imported, err
		}
		if added {
			imported++
		}
	}
	ldb.logger.Info("imported links", "count", imported, "read", len(in))
	return imported, nil
}

func (ldb *LinkDB) queryLinks(ctx context.Context, query string, args ...any) ([]model.LinkRecord, error) {
	rows, err := ldb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]model.LinkRecord, error) {
	defer rows.Close()

	links := make([]model.LinkRecord, 0)
	for rows.Next() {
		var (
			l          model.LinkRecord
			lastCheck  string
			status     string
			tags, meta string
		)
		err := rows.Scan(
			&l.ID,
			&l.URL,
			&l.Title,
			&l.Description,
			&l.Category,
			&l.ContentPreview,
			&lastCheck,
			&status,
			&l.DiscoverySource,
			&l.TrustScore,
			&tags,
			&meta,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		l.LastChecked = parseTimestamp(lastCheck)
		l.Status = model.Status(status)

		// Malformed JSON columns degrade to empty values.
		if err := json.Unmarshal([]byte(tags), &l.Tags); err != nil || l.Tags == nil {
			l.Tags = []string{}
		}
		if err := json.Unmarshal([]byte(meta), &l.Metadata); err != nil || l.Metadata == nil {
			l.Metadata = map[string]any{}
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func encodeTagsAndMetadata(tags []string, metadata map[string]any) (string, string, error) {
	if tags == nil {
		tags = []string{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	t, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize tags: %w", err)
	}
	m, err := json.Marshal(metadata)
	if err != nil {
		return "", "", fmt.Errorf("failed to serialize metadata: %w", err)
	}
	return string(t), string(m), nil
}

func (ldb *LinkDB) timestamp() string {
	return formatTime(ldb.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// timestampFormats lists the layouts accepted when reading timestamps back.
// Imported or hand-edited databases may hold other formats than timeLayout.
var timestampFormats = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
}

// parseTimestamp returns the zero time when no layout matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return -1 // no limit in SQLite
	}
	return limit
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
