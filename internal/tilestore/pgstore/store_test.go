package pgstore

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/mohammed-shakir/quadtile-crawler/internal/quadtree"
	"github.com/mohammed-shakir/quadtile-crawler/internal/tilestore"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet expectations: %v", err)
		}
	})
	return Attach(db), mock
}

func TestFindStaleTiles_UsesPrefixPattern(t *testing.T) {
	s, mock := newMock(t)
	older := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(qFindStale)).
		WithArgs("^023|^0210", older, 3).
		WillReturnRows(sqlmock.NewRows([]string{"tile_index"}).
			AddRow("0231").AddRow("02100").AddRow("0230"))

	got, err := s.FindStaleTiles(context.Background(), quadtree.PrefixSet{"023", "0210"}, older, 3)
	if err != nil {
		t.Fatalf("FindStaleTiles: %v", err)
	}
	want := []string{"0231", "02100", "0230"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestFindStaleTiles_EmptyPrefixesSkipsQuery(t *testing.T) {
	s, _ := newMock(t)
	got, err := s.FindStaleTiles(context.Background(), nil, time.Now(), 10)
	if err != nil || got != nil {
		t.Fatalf("got=%v err=%v want nil,nil", got, err)
	}
}

func TestFindStaleTiles_QueryError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(qFindStale)).WillReturnError(errors.New("conn reset"))

	if _, err := s.FindStaleTiles(context.Background(), quadtree.PrefixSet{"0"}, time.Now(), 1); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBulkUpsert_ArrayAndRowsAffected(t *testing.T) {
	s, mock := newMock(t)
	codes := []string{"0230", "0231", "0232"}

	mock.ExpectExec(regexp.QuoteMeta(qBulkUpsert)).
		WithArgs(pq.Array(codes), tilestore.NeverRefreshed).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.BulkUpsert(context.Background(), codes, tilestore.NeverRefreshed)
	if err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}
	if n != 2 {
		t.Fatalf("inserted=%d want 2", n)
	}
	if n, err := s.BulkUpsert(context.Background(), nil, tilestore.NeverRefreshed); n != 0 || err != nil {
		t.Fatalf("empty upsert n=%d err=%v", n, err)
	}
}

func TestSetRefreshTimestamp(t *testing.T) {
	s, mock := newMock(t)
	ts := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(qSetRefresh)).
		WithArgs("0231", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetRefreshTimestamp(context.Background(), "0231", ts); err != nil {
		t.Fatalf("SetRefreshTimestamp: %v", err)
	}
}

func TestGet(t *testing.T) {
	s, mock := newMock(t)
	ts := time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(qGet)).WithArgs("0231").
		WillReturnRows(sqlmock.NewRows([]string{"tile_index", "last_refresh_timestamp"}).AddRow("0231", ts))
	mock.ExpectQuery(regexp.QuoteMeta(qGet)).WithArgs("9").
		WillReturnRows(sqlmock.NewRows([]string{"tile_index", "last_refresh_timestamp"}))

	got, err := s.Get(context.Background(), "0231")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TileIndex != "0231" || !got.LastRefreshTimestamp.Equal(ts) {
		t.Fatalf("got=%+v", got)
	}
	if _, err := s.Get(context.Background(), "9"); !errors.Is(err, tilestore.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestEnsureSchemaAndPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	s := Attach(db)

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tile_info").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
