package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/fintrack/vaultguard/internal/domain"
)

type fakeRestoreDB struct {
	restored []string
	err      error
}

func (f *fakeRestoreDB) RestoreSQL(ctx context.Context, database, sqlPath string) error {
	if f.err != nil {
		return f.err
	}
	f.restored = append(f.restored, database)
	return nil
}

func TestRestoreFetch(t *testing.T) {
	Convey("Given a Restore with a staging copy store", t, func() {
		staging := t.TempDir()
		store := newMemStorage()
		local := newMemLocal(t.TempDir())
		led := &memLedger{}

		uc := NewRestore(&fakeRestoreDB{}, store, local,
			&passthroughCompressor{}, &passthroughEncryptor{}, led, nopLogger{}, staging)

		key := "backup-f1.sql.gz.enc"
		good := []byte("-- dump contents\n")
		checksum := func(data []byte) string {
			p := filepath.Join(t.TempDir(), "artifact")
			So(os.WriteFile(p, data, 0600), ShouldBeNil)
			sum, err := checksumFile(p)
			So(err, ShouldBeNil)
			return sum
		}
		led.backups = []domain.BackupRecord{{
			ID: "f1", Type: domain.BackupTypeFull,
			StorageKey: key, Checksum: checksum(good),
		}}

		Convey("When the staging copy still matches the ledger checksum", func() {
			So(local.put(key, good), ShouldBeNil)
			store.downloadErr = errors.New("object store unreachable")

			sqlPath, cleanup, err := uc.Fetch(context.Background(), key)
			if cleanup != nil {
				defer cleanup()
			}

			Convey("The artifact is served from staging without the object store", func() {
				So(err, ShouldBeNil)
				data, readErr := os.ReadFile(sqlPath)
				So(readErr, ShouldBeNil)
				So(string(data), ShouldEqual, string(good))
			})
		})

		Convey("When the staging copy has gone stale", func() {
			So(local.put(key, []byte("stale bytes")), ShouldBeNil)
			store.objects[key] = good

			sqlPath, cleanup, err := uc.Fetch(context.Background(), key)
			if cleanup != nil {
				defer cleanup()
			}

			Convey("It is refetched from the object store instead", func() {
				So(err, ShouldBeNil)
				data, readErr := os.ReadFile(sqlPath)
				So(readErr, ShouldBeNil)
				So(string(data), ShouldEqual, string(good))
			})
		})

		Convey("When even the object store copy fails the checksum", func() {
			store.objects[key] = []byte("corrupted bytes")

			_, cleanup, err := uc.Fetch(context.Background(), key)
			if cleanup != nil {
				defer cleanup()
			}

			Convey("The integrity gate aborts before decryption", func() {
				So(err, ShouldNotBeNil)
				So(errors.Is(err, domain.ErrIntegrity), ShouldBeTrue)
			})
		})
	})
}

func TestRestoreExecute(t *testing.T) {
	Convey("Given a Restore over a stored artifact", t, func() {
		staging := t.TempDir()
		store := newMemStorage()
		led := &memLedger{}
		db := &fakeRestoreDB{}

		uc := NewRestore(db, store, newMemLocal(t.TempDir()),
			&passthroughCompressor{}, &passthroughEncryptor{}, led, nopLogger{}, staging)

		Convey("When the artifact downloads and replays cleanly", func() {
			good := []byte("-- dump contents\n")
			store.objects["backup-f1.sql.gz.enc"] = good

			err := uc.Execute(context.Background(), "backup-f1.sql.gz.enc", "fintrack_restore")

			Convey("The plain SQL reaches the target database and staging is cleaned", func() {
				So(err, ShouldBeNil)
				So(db.restored, ShouldResemble, []string{"fintrack_restore"})

				leftovers, readErr := os.ReadDir(staging)
				So(readErr, ShouldBeNil)
				So(leftovers, ShouldBeEmpty)
			})
		})
	})
}
