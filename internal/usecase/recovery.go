package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fintrack/vaultguard/internal/config"
	"github.com/fintrack/vaultguard/internal/domain"
)

type RecoveryStep string

const (
	StepIdentifyRecoveryPoint RecoveryStep = "IDENTIFY_RECOVERY_POINT"
	StepValidateChain         RecoveryStep = "VALIDATE_CHAIN"
	StepPrepareTarget         RecoveryStep = "PREPARE_TARGET"
	StepFetchAndDecrypt       RecoveryStep = "FETCH_AND_DECRYPT"
	StepExecuteRestore        RecoveryStep = "EXECUTE_RESTORE"
	StepVerify                RecoveryStep = "VERIFY"
	StepPostRecovery          RecoveryStep = "POST_RECOVERY"
)

type StepResult struct {
	Step     RecoveryStep  `json:"step"`
	Status   string        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RecoveryRequest selects the recovery point one of three ways: an explicit
// backup key, the nearest backup at or before TargetTime, or latest available
// when neither is set.
type RecoveryRequest struct {
	BackupKey      string
	TargetTime     *time.Time
	TargetDatabase string
	Verify         bool
}

type RecoveryResult struct {
	Succeeded     bool                 `json:"succeeded"`
	RecoveryPoint domain.RecoveryPoint `json:"recovery_point"`
	Steps         []StepResult         `json:"steps"`
	Warnings      []string             `json:"warnings"`
	RowCounts     map[string]int64     `json:"row_counts,omitempty"`
	Elapsed       time.Duration        `json:"elapsed"`
	DataAge       time.Duration        `json:"data_age"`
}

type RecoveryLedger interface {
	Backups() ([]domain.BackupRecord, error)
	FindBackupByKey(storageKey string) (*domain.BackupRecord, error)
}

type RecoveryDatabase interface {
	CreateDatabase(ctx context.Context, name string, dropFirst bool) error
	RestoreSQL(ctx context.Context, database, sqlPath string) error
	CountRowsIn(ctx context.Context, database, table string) (int64, error)
	QueryValueIn(ctx context.Context, database, query string) (int64, error)
}

// Fetcher materializes a stored artifact as a replayable SQL file; the
// Restore usecase provides the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, storageKey string) (sqlPath string, cleanup func(), err error)
}

// Recovery is a linear state machine; no step starts before the previous
// step's durable effect is confirmed. Objective violations (RTO/RPO) are
// warnings in the result, never an abort: correctness of the restored data
// outranks the time budget.
type Recovery struct {
	ledger   RecoveryLedger
	db       RecoveryDatabase
	fetcher  Fetcher
	notifier domain.Notifier
	logger   Logger
	cfg      config.RecoveryConfig
}

func NewRecovery(
	ledger RecoveryLedger,
	db RecoveryDatabase,
	fetcher Fetcher,
	notifier domain.Notifier,
	logger Logger,
	cfg config.RecoveryConfig,
) *Recovery {
	return &Recovery{
		ledger:   ledger,
		db:       db,
		fetcher:  fetcher,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

func (uc *Recovery) Run(ctx context.Context, req RecoveryRequest) (*RecoveryResult, error) {
	start := time.Now()
	result := &RecoveryResult{}

	target := req.TargetDatabase
	if target == "" {
		target = uc.cfg.TargetDatabase
	}
	if target == "" {
		return nil, fmt.Errorf("no recovery target database configured")
	}

	err := uc.run(ctx, req, target, result)
	result.Elapsed = time.Since(start)

	if err != nil {
		result.Succeeded = false
		uc.logger.Errorf("Recovery failed after %s: %v", result.Elapsed.Round(time.Second), err)
		uc.notify(ctx, "RECOVERY_FAILED", fmt.Sprintf("target %s: %v", target, err))
		return result, err
	}

	uc.checkObjectives(result)

	status := "RECOVERY_COMPLETE"
	if !result.Succeeded {
		status = "RECOVERY_UNSUCCESSFUL"
	}
	uc.notify(ctx, status, fmt.Sprintf("target %s restored to %s in %s (%d warning(s))",
		target, result.RecoveryPoint.Timestamp.Format(time.RFC3339),
		result.Elapsed.Round(time.Second), len(result.Warnings)))

	uc.logger.Infof("Recovery finished: succeeded=%v elapsed=%s warnings=%d",
		result.Succeeded, result.Elapsed.Round(time.Second), len(result.Warnings))
	return result, nil
}

func (uc *Recovery) run(ctx context.Context, req RecoveryRequest, target string, result *RecoveryResult) error {
	// IDENTIFY_RECOVERY_POINT
	if _, err := uc.step(result, StepIdentifyRecoveryPoint, func() (string, error) {
		p, err := uc.identify(req)
		if err != nil {
			return "", err
		}
		result.RecoveryPoint = *p
		return fmt.Sprintf("chain of %d backup(s) ending %s", len(p.Chain), p.Timestamp.Format(time.RFC3339)), nil
	}); err != nil {
		return err
	}

	// VALIDATE_CHAIN
	if _, err := uc.step(result, StepValidateChain, func() (string, error) {
		if err := result.RecoveryPoint.Validate(); err != nil {
			return "", err
		}
		return "chain invariant holds", nil
	}); err != nil {
		return err
	}

	// PREPARE_TARGET
	if _, err := uc.step(result, StepPrepareTarget, func() (string, error) {
		if err := uc.db.CreateDatabase(ctx, target, true); err != nil {
			return "", err
		}
		return fmt.Sprintf("recreated isolated database %s", target), nil
	}); err != nil {
		return err
	}

	// FETCH_AND_DECRYPT: every artifact is materialized and authenticated
	// before the first restore statement runs.
	sqlPaths := make([]string, 0, len(result.RecoveryPoint.Chain))
	var cleanups []func()
	defer func() {
		for _, c := range cleanups {
			c()
		}
	}()
	if _, err := uc.step(result, StepFetchAndDecrypt, func() (string, error) {
		for _, rec := range result.RecoveryPoint.Chain {
			sqlPath, cleanup, err := uc.fetcher.Fetch(ctx, rec.StorageKey)
			if cleanup != nil {
				cleanups = append(cleanups, cleanup)
			}
			if err != nil {
				return "", fmt.Errorf("fetch %s: %w", rec.StorageKey, err)
			}
			sqlPaths = append(sqlPaths, sqlPath)
		}
		return fmt.Sprintf("%d artifact(s) fetched and authenticated", len(sqlPaths)), nil
	}); err != nil {
		return err
	}

	// EXECUTE_RESTORE: full first, then incrementals in order. Later
	// incrementals depend on the full restore being complete, so this loop
	// cannot be parallelized.
	if _, err := uc.step(result, StepExecuteRestore, func() (string, error) {
		for i, sqlPath := range sqlPaths {
			rec := result.RecoveryPoint.Chain[i]
			uc.logger.Infof("Applying %s backup %s (%d/%d)", rec.Type, rec.StorageKey, i+1, len(sqlPaths))
			if err := uc.db.RestoreSQL(ctx, target, sqlPath); err != nil {
				return "", fmt.Errorf("apply %s: %w", rec.StorageKey, err)
			}
		}
		return fmt.Sprintf("%d backup(s) applied", len(sqlPaths)), nil
	}); err != nil {
		return err
	}

	// VERIFY
	result.Succeeded = true
	if req.Verify {
		if _, err := uc.step(result, StepVerify, func() (string, error) {
			counts, violations, err := uc.verify(ctx, target)
			result.RowCounts = counts
			if err != nil {
				return "", err
			}
			if len(violations) > 0 {
				result.Succeeded = false
				for _, v := range violations {
					result.Warnings = append(result.Warnings, v)
				}
				return "", domain.Failuref(domain.ErrIntegrity, "verify",
					"%d integrity predicate(s) violated", len(violations))
			}
			return fmt.Sprintf("%d critical table(s) counted, all predicates hold", len(counts)), nil
		}); err != nil {
			// Integrity violations mark the recovery unsuccessful but the
			// report is still completed.
			if !isIntegrity(err) {
				return err
			}
			uc.logger.Errorf("Recovery verification failed: %v", err)
		}
	}

	// POST_RECOVERY
	if _, err := uc.step(result, StepPostRecovery, func() (string, error) {
		last := result.RecoveryPoint.Chain[len(result.RecoveryPoint.Chain)-1]
		result.DataAge = time.Since(last.CreatedAt)
		return fmt.Sprintf("recovered data age %s", result.DataAge.Round(time.Minute)), nil
	}); err != nil {
		return err
	}

	return nil
}

func (uc *Recovery) identify(req RecoveryRequest) (*domain.RecoveryPoint, error) {
	records, err := uc.ledger.Backups()
	if err != nil {
		return nil, err
	}

	switch {
	case req.BackupKey != "":
		rec, err := uc.ledger.FindBackupByKey(req.BackupKey)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("no backup record for key %s", req.BackupKey)
		}
		return domain.ChainForRecord(records, *rec)

	case req.TargetTime != nil:
		return domain.BuildChain(records, *req.TargetTime)

	default:
		if len(records) == 0 {
			return nil, fmt.Errorf("no backups available")
		}
		return domain.BuildChain(records, records[len(records)-1].CreatedAt)
	}
}

func (uc *Recovery) verify(ctx context.Context, target string) (map[string]int64, []string, error) {
	counts := make(map[string]int64, len(uc.cfg.CriticalTables))
	for _, table := range uc.cfg.CriticalTables {
		n, err := uc.db.CountRowsIn(ctx, target, table)
		if err != nil {
			return counts, nil, err
		}
		counts[table] = n
		uc.logger.Infof("Verified %s: %d row(s)", table, n)
	}

	var violations []string
	for _, predicate := range uc.cfg.Predicates {
		n, err := uc.db.QueryValueIn(ctx, target, predicate.Query)
		if err != nil {
			return counts, violations, fmt.Errorf("predicate %s: %w", predicate.Name, err)
		}
		if n != 0 {
			violations = append(violations,
				fmt.Sprintf("integrity predicate %s: %d violating row(s)", predicate.Name, n))
		}
	}
	return counts, violations, nil
}

// checkObjectives compares elapsed time against the RTO and data age against
// the RPO. Violations are schedule warnings, not failures.
func (uc *Recovery) checkObjectives(result *RecoveryResult) {
	if uc.cfg.RTO > 0 && result.Elapsed > uc.cfg.RTO {
		w := domain.Failuref(domain.ErrScheduleViolation, "recovery",
			"elapsed %s exceeds RTO %s", result.Elapsed.Round(time.Second), uc.cfg.RTO)
		result.Warnings = append(result.Warnings, w.Error())
		uc.logger.Warnf("%v", w)
	}
	if uc.cfg.RPO > 0 && result.DataAge > uc.cfg.RPO {
		w := domain.Failuref(domain.ErrScheduleViolation, "recovery",
			"recovered data age %s exceeds RPO %s", result.DataAge.Round(time.Minute), uc.cfg.RPO)
		result.Warnings = append(result.Warnings, w.Error())
		uc.logger.Warnf("%v", w)
	}
}

func (uc *Recovery) step(result *RecoveryResult, step RecoveryStep, fn func() (string, error)) (string, error) {
	start := time.Now()
	uc.logger.Infof("=== %s ===", step)

	detail, err := fn()
	sr := StepResult{Step: step, Status: "completed", Detail: detail, Duration: time.Since(start)}
	if err != nil {
		sr.Status = "failed"
		sr.Detail = err.Error()
	}
	result.Steps = append(result.Steps, sr)
	return detail, err
}

func (uc *Recovery) notify(ctx context.Context, status, details string) {
	if err := uc.notifier.Notify(ctx, domain.Notification{
		Status:    status,
		Details:   details,
		Timestamp: time.Now(),
	}); err != nil {
		uc.logger.Errorf("Failed to notify sink: %v", err)
	}
}

func isIntegrity(err error) bool {
	return errors.Is(err, domain.ErrIntegrity)
}
