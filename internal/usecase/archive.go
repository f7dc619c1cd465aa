package usecase

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fintrack/vaultguard/internal/adapter/database"
	"github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
)

type ArchiveDatabase interface {
	CountRowsOlderThan(ctx context.Context, table, column string, cutoff time.Time) (int64, error)
	FetchRowsOlderThan(ctx context.Context, table, column string, cutoff time.Time, limit, offset int) ([]map[string]interface{}, error)
	DeleteRowsOlderThan(ctx context.Context, table, column string, cutoff time.Time, restorePoint string) (int64, string, error)
	TableSchema(ctx context.Context, table string) ([]database.ColumnInfo, error)
	Vacuum(ctx context.Context, table string) error
}

type ArchiveLedger interface {
	AppendArchival(rec domain.ArchivalRecord) error
}

// archiveDocument is the cold-storage payload shape: every archived row of
// one table for one cutoff, as a single JSON document. exportRows writes it
// incrementally; this struct exists for readers of the archive.
type archiveDocument struct {
	Table      string                   `json:"table"`
	CutoffDate time.Time                `json:"cutoff_date"`
	ExportedAt time.Time                `json:"exported_at"`
	Rows       []map[string]interface{} `json:"rows"`
	RowCount   int64                    `json:"row_count"`
}

type tableSchemaDocument struct {
	Table      string                `json:"table"`
	SnapshotAt time.Time             `json:"snapshot_at"`
	Columns    []database.ColumnInfo `json:"columns"`
}

// Archive moves rows past the compliance retention window into cold storage
// and prunes them from the live database. Rows leave the live table only
// after the cold-storage upload is confirmed, and each table is its own
// atomic unit: a failure is recorded and the run moves on to the next table.
type Archive struct {
	db          ArchiveDatabase
	store       domain.Storage
	compressor  Compressor
	ledger      ArchiveLedger
	notifier    domain.Notifier
	logger      Logger
	stagingPath string
	cfg         config.ArchivalConfig
}

func NewArchive(
	db ArchiveDatabase,
	store domain.Storage,
	compressor Compressor,
	ledger ArchiveLedger,
	notifier domain.Notifier,
	logger Logger,
	stagingPath string,
	cfg config.ArchivalConfig,
) *Archive {
	return &Archive{
		db:          db,
		store:       store,
		compressor:  compressor,
		ledger:      ledger,
		notifier:    notifier,
		logger:      logger,
		stagingPath: stagingPath,
		cfg:         cfg,
	}
}

// Run archives every configured table against the retention cutoff. Partial
// archival is an accepted operating mode: per-table failures are reported in
// the summary, not propagated as a run abort.
func (uc *Archive) Run(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, -uc.cfg.RetentionMonths, 0)
	uc.logger.Infof("Starting archival run, cutoff %s, %d table(s)",
		cutoff.Format("2006-01-02"), len(uc.cfg.Tables))

	archived, failed := 0, 0
	for _, table := range uc.cfg.Tables {
		record, err := uc.ArchiveTable(ctx, table, cutoff)
		if err != nil {
			failed++
			uc.logger.Errorf("[%s] Archival failed: %v", table.Name, err)
			uc.notify(ctx, "ARCHIVAL_FAILED", fmt.Sprintf("table %s: %v", table.Name, err))
			continue
		}
		if record != nil {
			archived++
		}
	}

	uc.logger.Infof("Archival run complete: %d archived, %d failed, %d unchanged",
		archived, failed, len(uc.cfg.Tables)-archived-failed)
	if archived > 0 || failed > 0 {
		uc.notify(ctx, "ARCHIVAL_COMPLETE",
			fmt.Sprintf("%d table(s) archived, %d failed, cutoff %s", archived, failed, cutoff.Format("2006-01-02")))
	}
	return nil
}

// ArchiveTable archives one table. Returns (nil, nil) when no rows are older
// than the cutoff.
func (uc *Archive) ArchiveTable(ctx context.Context, table config.ArchiveTableConfig, cutoff time.Time) (*domain.ArchivalRecord, error) {
	count, err := uc.db.CountRowsOlderThan(ctx, table.Name, table.TimestampColumn, cutoff)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		uc.logger.Infof("[%s] No rows older than cutoff, skipping", table.Name)
		return nil, nil
	}

	uc.logger.Infof("[%s] Archiving %d row(s) older than %s", table.Name, count, cutoff.Format("2006-01-02"))

	jsonPath := filepath.Join(uc.stagingPath, fmt.Sprintf("archive-%s-%s.json", table.Name, cutoff.Format("20060102")))
	gzPath := jsonPath + ".gz"
	defer func() {
		for _, p := range []string{jsonPath, gzPath} {
			if err := removeIfPresent(p); err != nil {
				uc.logger.Warnf("%v", err)
			}
		}
	}()

	rowCount, sizeOriginal, err := uc.exportRows(ctx, table, cutoff, jsonPath)
	if err != nil {
		return nil, err
	}

	if err := uc.compressor.Compress(jsonPath, gzPath); err != nil {
		return nil, domain.NewFailure(domain.ErrIO, "archive compress", err)
	}
	gzInfo, err := os.Stat(gzPath)
	if err != nil {
		return nil, domain.NewFailure(domain.ErrIO, "archive compress", err)
	}

	storageKey := fmt.Sprintf("archives/%d/%s/%s-%s.json.gz",
		cutoff.Year(), table.Name, table.Name, cutoff.Format("20060102"))
	uploadOpts := domain.UploadOptions{
		StorageClass: uc.cfg.StorageClass,
		Metadata: map[string]string{
			"table":           table.Name,
			"cutoff":          cutoff.Format("2006-01-02"),
			"retention-years": fmt.Sprintf("%d", uc.cfg.RetentionYears),
		},
	}
	if err := uc.store.Upload(ctx, gzPath, storageKey, uploadOpts); err != nil {
		return nil, err
	}

	if err := uc.snapshotSchema(ctx, table.Name, cutoff); err != nil {
		return nil, err
	}

	// Upload is confirmed; only now do the archived rows leave the live table.
	restorePoint := fmt.Sprintf("vaultguard_archive_%s_%s", table.Name, time.Now().Format("20060102150405"))
	deleted, warning, err := uc.db.DeleteRowsOlderThan(ctx, table.Name, table.TimestampColumn, cutoff, restorePoint)
	if err != nil {
		return nil, fmt.Errorf("rows archived to %s but not deleted: %w", storageKey, err)
	}
	if warning != "" {
		uc.logger.Warnf("[%s] %s", table.Name, warning)
	}
	if deleted != rowCount {
		uc.logger.Warnf("[%s] Deleted %d row(s) but archived %d; rows changed during the run",
			table.Name, deleted, rowCount)
	}

	if err := uc.db.Vacuum(ctx, table.Name); err != nil {
		uc.logger.Warnf("[%s] Space reclaim failed: %v", table.Name, err)
	}

	record := domain.ArchivalRecord{
		Table:           table.Name,
		CutoffDate:      cutoff,
		RecordsArchived: deleted,
		SizeOriginal:    sizeOriginal,
		SizeCompressed:  gzInfo.Size(),
		StorageKey:      storageKey,
		ArchivedAt:      time.Now(),
	}
	if err := uc.ledger.AppendArchival(record); err != nil {
		return nil, err
	}

	uc.logger.Infof("[%s] Archived %d row(s) to %s (%.1f%% of original size)",
		table.Name, deleted, storageKey, float64(record.SizeCompressed)/float64(record.SizeOriginal)*100)
	return &record, nil
}

// exportRows streams the table's expired rows into a single JSON document at
// jsonPath. Batches are written as they are fetched, so memory stays bounded
// by the batch size no matter how far past the window the table has grown.
// Returns the row count and the size of the written file.
func (uc *Archive) exportRows(ctx context.Context, table config.ArchiveTableConfig, cutoff time.Time, jsonPath string) (int64, int64, error) {
	f, err := os.Create(jsonPath)
	if err != nil {
		return 0, 0, domain.NewFailure(domain.ErrIO, "archive export", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	name, err := json.Marshal(table.Name)
	if err != nil {
		return 0, 0, domain.NewFailure(domain.ErrIO, "archive export", err)
	}
	fmt.Fprintf(w, `{"table":%s,"cutoff_date":%q,"exported_at":%q,"rows":[`,
		name, cutoff.Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))

	var rowCount int64
	batchSize := uc.cfg.BatchSize
	for offset := 0; ; offset += batchSize {
		batch, err := uc.db.FetchRowsOlderThan(ctx, table.Name, table.TimestampColumn, cutoff, batchSize, offset)
		if err != nil {
			return 0, 0, err
		}
		if len(batch) == 0 {
			break
		}
		for _, row := range batch {
			data, err := json.Marshal(row)
			if err != nil {
				return 0, 0, domain.NewFailure(domain.ErrIO, "archive export", err)
			}
			if rowCount > 0 {
				w.WriteByte(',')
			}
			if _, err := w.Write(data); err != nil {
				return 0, 0, domain.NewFailure(domain.ErrIO, "archive export", err)
			}
			rowCount++
		}
	}

	fmt.Fprintf(w, `],"row_count":%d}`+"\n", rowCount)
	if err := w.Flush(); err != nil {
		return 0, 0, domain.NewFailure(domain.ErrIO, "archive export", err)
	}
	info, err := f.Stat()
	if err != nil {
		return 0, 0, domain.NewFailure(domain.ErrIO, "archive export", err)
	}
	return rowCount, info.Size(), nil
}

func (uc *Archive) snapshotSchema(ctx context.Context, table string, cutoff time.Time) error {
	columns, err := uc.db.TableSchema(ctx, table)
	if err != nil {
		return err
	}

	schemaPath := filepath.Join(uc.stagingPath, fmt.Sprintf("schema-%s.json", table))
	defer func() {
		if err := removeIfPresent(schemaPath); err != nil {
			uc.logger.Warnf("%v", err)
		}
	}()

	if _, err := writeJSON(schemaPath, tableSchemaDocument{
		Table:      table,
		SnapshotAt: time.Now(),
		Columns:    columns,
	}); err != nil {
		return domain.NewFailure(domain.ErrIO, "schema snapshot", err)
	}

	key := fmt.Sprintf("archives/%d/%s/%s-schema.json", cutoff.Year(), table, table)
	return uc.store.Upload(ctx, schemaPath, key, domain.UploadOptions{StorageClass: uc.cfg.StorageClass})
}

func (uc *Archive) notify(ctx context.Context, status, details string) {
	if err := uc.notifier.Notify(ctx, domain.Notification{
		Status:    status,
		Details:   details,
		Timestamp: time.Now(),
	}); err != nil {
		uc.logger.Errorf("Failed to notify sink: %v", err)
	}
}

func writeJSON(path string, v interface{}) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
