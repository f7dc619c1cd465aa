package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/fintrack/vaultguard/internal/adapter/database"
	"github.com/fintrack/vaultguard/internal/config"
)

// fakeArchiveDB pages canned rows and records whether deletion was attempted.
type fakeArchiveDB struct {
	rows         []map[string]interface{}
	failCountFor string
	countErr     error
	fetchErr     error
	deleteErr    error
	warning      string

	fetchCalls  int
	deleteCalls int
}

func (f *fakeArchiveDB) CountRowsOlderThan(ctx context.Context, table, column string, cutoff time.Time) (int64, error) {
	if table == f.failCountFor {
		return 0, f.countErr
	}
	return int64(len(f.rows)), nil
}

func (f *fakeArchiveDB) FetchRowsOlderThan(ctx context.Context, table, column string, cutoff time.Time, limit, offset int) ([]map[string]interface{}, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	f.fetchCalls++
	if offset >= len(f.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	return f.rows[offset:end], nil
}

func (f *fakeArchiveDB) DeleteRowsOlderThan(ctx context.Context, table, column string, cutoff time.Time, restorePoint string) (int64, string, error) {
	f.deleteCalls++
	if f.deleteErr != nil {
		return 0, "", f.deleteErr
	}
	return int64(len(f.rows)), f.warning, nil
}

func (f *fakeArchiveDB) TableSchema(ctx context.Context, table string) ([]database.ColumnInfo, error) {
	return []database.ColumnInfo{{Name: "id", DataType: "bigint"}}, nil
}

func (f *fakeArchiveDB) Vacuum(ctx context.Context, table string) error { return nil }

func archivalConfig() config.ArchivalConfig {
	return config.ArchivalConfig{
		RetentionMonths: 84,
		BatchSize:       2,
		StorageClass:    "GLACIER",
		RetentionYears:  7,
		Tables: []config.ArchiveTableConfig{
			{Name: "transactions", TimestampColumn: "created_at"},
		},
	}
}

func archiveRows(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := range rows {
		rows[i] = map[string]interface{}{"id": float64(i + 1), "amount": "19.99"}
	}
	return rows
}

func TestArchiveTable(t *testing.T) {
	Convey("Given an Archive over a table with expired rows", t, func() {
		cutoff := time.Date(2019, 8, 24, 0, 0, 0, 0, time.UTC)
		table := config.ArchiveTableConfig{Name: "transactions", TimestampColumn: "created_at"}
		store := newMemStorage()
		led := &memLedger{}
		db := &fakeArchiveDB{rows: archiveRows(5)}

		uc := NewArchive(db, store, &passthroughCompressor{}, led, &memNotifier{}, nopLogger{}, t.TempDir(), archivalConfig())

		Convey("When no rows are older than the cutoff", func() {
			db.rows = nil
			record, err := uc.ArchiveTable(context.Background(), table, cutoff)

			Convey("The table is skipped without touching storage or the live data", func() {
				So(err, ShouldBeNil)
				So(record, ShouldBeNil)
				So(store.objects, ShouldBeEmpty)
				So(db.deleteCalls, ShouldEqual, 0)
				So(led.archivals, ShouldBeEmpty)
			})
		})

		Convey("When the archival succeeds", func() {
			record, err := uc.ArchiveTable(context.Background(), table, cutoff)

			Convey("Every row lands in cold storage and is then deleted", func() {
				So(err, ShouldBeNil)
				So(record, ShouldNotBeNil)
				So(record.RecordsArchived, ShouldEqual, 5)
				So(db.deleteCalls, ShouldEqual, 1)
				So(led.archivals, ShouldHaveLength, 1)

				data, ok := store.objects["archives/2019/transactions/transactions-20190824.json.gz"]
				So(ok, ShouldBeTrue)

				var doc archiveDocument
				So(json.Unmarshal(data, &doc), ShouldBeNil)
				So(doc.Table, ShouldEqual, "transactions")
				So(doc.RowCount, ShouldEqual, 5)
				So(doc.Rows, ShouldHaveLength, 5)
				So(doc.Rows[4]["id"], ShouldEqual, float64(5))
			})

			Convey("The export was paged in batches rather than one fetch", func() {
				So(err, ShouldBeNil)
				So(db.fetchCalls, ShouldBeGreaterThanOrEqualTo, 3)
			})

			Convey("The upload carries the cold storage class and retention metadata", func() {
				So(err, ShouldBeNil)
				opts := store.opts["archives/2019/transactions/transactions-20190824.json.gz"]
				So(opts.StorageClass, ShouldEqual, "GLACIER")
				So(opts.Metadata["table"], ShouldEqual, "transactions")
				So(opts.Metadata["retention-years"], ShouldEqual, "7")
			})

			Convey("A schema snapshot sits alongside the archive", func() {
				So(err, ShouldBeNil)
				_, ok := store.objects["archives/2019/transactions/transactions-schema.json"]
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When the upload fails", func() {
			store.uploadErr = context.DeadlineExceeded
			record, err := uc.ArchiveTable(context.Background(), table, cutoff)

			Convey("No rows leave the live table", func() {
				So(err, ShouldNotBeNil)
				So(record, ShouldBeNil)
				So(db.deleteCalls, ShouldEqual, 0)
				So(led.archivals, ShouldBeEmpty)
			})
		})

		Convey("When the delete fails after the upload", func() {
			db.deleteErr = context.DeadlineExceeded
			record, err := uc.ArchiveTable(context.Background(), table, cutoff)

			Convey("The error names the already-archived key", func() {
				So(err, ShouldNotBeNil)
				So(record, ShouldBeNil)
				So(err.Error(), ShouldContainSubstring, "archives/2019/transactions")
				So(err.Error(), ShouldContainSubstring, "not deleted")
			})
		})
	})
}

func TestArchiveRun(t *testing.T) {
	Convey("Given an archival run over several tables", t, func() {
		cfg := archivalConfig()
		cfg.Tables = []config.ArchiveTableConfig{
			{Name: "ledger_entries", TimestampColumn: "created_at"},
			{Name: "audit_logs", TimestampColumn: "logged_at"},
		}
		store := newMemStorage()
		led := &memLedger{}
		sink := &memNotifier{}
		db := &fakeArchiveDB{
			rows:         archiveRows(3),
			failCountFor: "ledger_entries",
			countErr:     context.DeadlineExceeded,
		}

		uc := NewArchive(db, store, &passthroughCompressor{}, led, sink, nopLogger{}, t.TempDir(), cfg)

		Convey("When the first table fails", func() {
			err := uc.Run(context.Background())

			Convey("The run still archives the remaining tables", func() {
				So(err, ShouldBeNil)
				So(led.archivals, ShouldHaveLength, 1)
				So(led.archivals[0].Table, ShouldEqual, "audit_logs")
			})

			Convey("Both the failure and the summary reach the sink", func() {
				So(err, ShouldBeNil)
				So(sink.statuses(), ShouldContain, "ARCHIVAL_FAILED")
				So(sink.statuses(), ShouldContain, "ARCHIVAL_COMPLETE")
			})
		})
	})
}
