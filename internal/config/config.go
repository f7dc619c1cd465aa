package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Archival   ArchivalConfig   `mapstructure:"archival"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Recovery   RecoveryConfig   `mapstructure:"recovery"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

func (d *DatabaseConfig) DSN(database string) string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, database, sslMode)
}

// IncrementalTable names a table whose changed rows are captured by
// incremental backups. KeyColumn is the primary key, UpdatedColumn the change
// timestamp the export filters on.
type IncrementalTable struct {
	Name          string `mapstructure:"name"`
	KeyColumn     string `mapstructure:"key_column"`
	UpdatedColumn string `mapstructure:"updated_column"`
}

type BackupConfig struct {
	StagingPath         string             `mapstructure:"staging_path"`
	LocalPath           string             `mapstructure:"local_path"`
	CompressLevel       int                `mapstructure:"compress_level"`
	MaxBackups          int                `mapstructure:"max_backups"`
	RetentionDays       int                `mapstructure:"retention_days"`
	DumpTimeout         time.Duration      `mapstructure:"dump_timeout"`
	FullSchedule        string             `mapstructure:"full_schedule"`
	IncrementalSchedule string             `mapstructure:"incremental_schedule"`
	CleanupSchedule     string             `mapstructure:"cleanup_schedule"`
	IncrementalTables   []IncrementalTable `mapstructure:"incremental_tables"`
}

type EncryptionConfig struct {
	Secret string `mapstructure:"secret"`
	// KDFSalt is shared across all backups; changing it breaks decryption of
	// every existing archive. See DESIGN.md before touching the default.
	KDFSalt string `mapstructure:"kdf_salt"`
}

type StorageConfig struct {
	S3      S3Config      `mapstructure:"s3"`
	Replica ReplicaConfig `mapstructure:"replica"`
}

type S3Config struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

// ReplicaConfig enables a best-effort offsite mirror of backup artifacts to
// Google Drive alongside the primary object store.
type ReplicaConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`
}

type ArchiveTableConfig struct {
	Name            string `mapstructure:"name"`
	TimestampColumn string `mapstructure:"timestamp_column"`
}

type ArchivalConfig struct {
	Schedule        string               `mapstructure:"schedule"`
	RetentionMonths int                  `mapstructure:"retention_months"`
	BatchSize       int                  `mapstructure:"batch_size"`
	StorageClass    string               `mapstructure:"storage_class"`
	RetentionYears  int                  `mapstructure:"retention_years"`
	Tables          []ArchiveTableConfig `mapstructure:"tables"`
}

type MonitoringConfig struct {
	Schedule            string        `mapstructure:"schedule"`
	FullInterval        time.Duration `mapstructure:"full_interval"`
	IncrementalInterval time.Duration `mapstructure:"incremental_interval"`
	Tolerance           time.Duration `mapstructure:"tolerance"`
	FullRestoreBase     time.Duration `mapstructure:"full_restore_base"`
	PerIncremental      time.Duration `mapstructure:"per_incremental"`
	StorageQuotaGB      int64         `mapstructure:"storage_quota_gb"`
}

type IntegrityPredicate struct {
	Name string `mapstructure:"name"`
	// Query must return a single integer: the number of violating rows.
	Query string `mapstructure:"query"`
}

type RecoveryConfig struct {
	TargetDatabase string               `mapstructure:"target_database"`
	RTO            time.Duration        `mapstructure:"rto"`
	RPO            time.Duration        `mapstructure:"rpo"`
	CriticalTables []string             `mapstructure:"critical_tables"`
	Predicates     []IntegrityPredicate `mapstructure:"predicates"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("app.name", "vaultguard")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("database.port", 5432)
	v.SetDefault("backup.compress_level", 6)
	v.SetDefault("backup.max_backups", 5)
	v.SetDefault("backup.retention_days", 30)
	v.SetDefault("backup.dump_timeout", "30m")
	v.SetDefault("backup.full_schedule", "0 0 2 * * *")
	v.SetDefault("backup.incremental_schedule", "0 0 */6 * * *")
	v.SetDefault("backup.cleanup_schedule", "0 0 3 * * *")
	v.SetDefault("encryption.kdf_salt", "vaultguard-backup-salt")
	v.SetDefault("archival.retention_months", 84)
	v.SetDefault("archival.batch_size", 1000)
	v.SetDefault("archival.storage_class", "GLACIER")
	v.SetDefault("archival.retention_years", 7)
	v.SetDefault("archival.schedule", "0 0 4 1 * *")
	v.SetDefault("monitoring.schedule", "0 0 * * * *")
	v.SetDefault("monitoring.full_interval", "24h")
	v.SetDefault("monitoring.incremental_interval", "6h")
	v.SetDefault("monitoring.tolerance", "2h")
	v.SetDefault("monitoring.full_restore_base", "30m")
	v.SetDefault("monitoring.per_incremental", "5m")
	v.SetDefault("monitoring.storage_quota_gb", 500)
	v.SetDefault("recovery.target_database", "")
	v.SetDefault("recovery.rto", "4h")
	v.SetDefault("recovery.rpo", "24h")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if c.Backup.StagingPath == "" {
		return fmt.Errorf("backup.staging_path is required")
	}
	if c.Backup.LocalPath == "" {
		return fmt.Errorf("backup.local_path is required")
	}
	if c.Backup.CompressLevel < 1 || c.Backup.CompressLevel > 9 {
		return fmt.Errorf("backup.compress_level must be between 1 and 9")
	}
	if c.Encryption.Secret == "" {
		return fmt.Errorf("encryption.secret is required")
	}
	if c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required")
	}
	if c.Storage.S3.Region == "" {
		return fmt.Errorf("storage.s3.region is required")
	}
	if c.Recovery.TargetDatabase != "" && c.Recovery.TargetDatabase == c.Database.Database {
		return fmt.Errorf("recovery.target_database must not be the live database")
	}
	for i, t := range c.Archival.Tables {
		if t.Name == "" {
			return fmt.Errorf("archival.tables[%d]: name is required", i)
		}
		if t.TimestampColumn == "" {
			return fmt.Errorf("archival.tables[%d]: timestamp_column is required", i)
		}
	}
	for i, t := range c.Backup.IncrementalTables {
		if t.Name == "" || t.KeyColumn == "" || t.UpdatedColumn == "" {
			return fmt.Errorf("backup.incremental_tables[%d]: name, key_column and updated_column are required", i)
		}
	}
	return nil
}
