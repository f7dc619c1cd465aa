package domain

import "time"

// ArchivalRecord is the append-only audit of one table's archival run: what
// was removed from the live database and where it now lives in cold storage.
type ArchivalRecord struct {
	Table           string    `json:"table"`
	CutoffDate      time.Time `json:"cutoff_date"`
	RecordsArchived int64     `json:"records_archived"`
	SizeOriginal    int64     `json:"size_original"`
	SizeCompressed  int64     `json:"size_compressed"`
	StorageKey      string    `json:"storage_key"`
	ArchivedAt      time.Time `json:"archived_at"`
}
