package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

func testArticle() harvest.Article {
	now := time.Unix(1700000000, 0).UTC()
	return harvest.Article{
		URL:         "https://example.com/story",
		Source:      "wire",
		Title:       "Story",
		Author:      "Lee",
		PublishedAt: now.Add(-time.Hour),
		Body:        "text",
		Markdown:    "text",
		ContentHash: "abc123",
		FetchedAt:   now,
		RunID:       "run-1",
	}
}

func expectInsert(mock pgxmock.PgxPoolIface, a harvest.Article) *pgxmock.ExpectedExec {
	return mock.ExpectExec(`INSERT INTO articles \(url,source,title,author,published_at,body,markdown,content_hash,fetched_at,run_id\) VALUES \(\$1,\$2,\$3,\$4,\$5,\$6,\$7,\$8,\$9,\$10\) ON CONFLICT \(url\) DO NOTHING`).
		WithArgs(a.URL, a.Source, a.Title, a.Author, a.PublishedAt, a.Body, a.Markdown, a.ContentHash, a.FetchedAt, a.RunID)
}

func TestPersistInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "")
	require.NoError(t, err)
	a := testArticle()
	expectInsert(mock, a).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	status, err := s.Persist(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, harvest.PersistAck, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistConflictIsDuplicate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "articles")
	require.NoError(t, err)
	a := testArticle()
	expectInsert(mock, a).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	status, err := s.Persist(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, harvest.PersistDuplicate, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistExecErrorIsPersistKind(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "articles")
	require.NoError(t, err)
	a := testArticle()
	expectInsert(mock, a).WillReturnError(errors.New("connection reset"))

	_, err = s.Persist(context.Background(), a)
	require.ErrorIs(t, err, harvest.ErrPersist)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistZeroPublishedAtIsNull(t *testing.T) {
	t.Parallel()

	s := &Sink{table: "articles"}
	a := testArticle()
	a.PublishedAt = time.Time{}
	_, args, err := s.insert(a)
	require.NoError(t, err)
	require.Nil(t, args[4])
}

func TestMigrateCreatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "harvested")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS harvested").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil, "articles")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "articles; DROP TABLE x")
	require.Error(t, err)
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestPingWrapsPoolError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = s.Ping(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
