// Package backup archives the bus ledger and paper_trades database to an
// S3-compatible object store on a schedule: a compressed, checksummed
// snapshot the operator can restore from without replaying the bus log.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Source is a single database this service knows how to snapshot.
type Source struct {
	Name string
	DB   interface {
		BackupTo(ctx context.Context, destPath string) error
	}
}

// objectStore is the subset of S3Client the service depends on, so tests
// can substitute an in-memory fake instead of talking to real S3.
type objectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
	List(ctx context.Context, prefix string) ([]ObjectSummary, error)
	Delete(ctx context.Context, key string) error
}

// Service creates archives of every registered Source and ships them to S3.
type Service struct {
	client  objectStore
	sources []Source
	dataDir string
	log     zerolog.Logger
}

// New builds a Service. dataDir holds the staging directory used while
// building an archive; it is removed after each run.
func New(client objectStore, sources []Source, dataDir string, log zerolog.Logger) *Service {
	return &Service{
		client:  client,
		sources: sources,
		dataDir: dataDir,
		log:     log.With().Str("component", "backup").Logger(),
	}
}

// Metadata describes one archived backup.
type Metadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one database within an archive.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// Info describes a backup as listed from the object store.
type Info struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
	AgeHours  int64
}

const archivePrefix = "oracle-arb-backup-"

// Run creates one archive of every registered source and uploads it.
func (s *Service) Run(ctx context.Context) error {
	start := time.Now()
	stagingDir := filepath.Join(s.dataDir, "backup-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	meta := Metadata{Timestamp: time.Now().UTC(), Version: "1.0.0"}
	for _, src := range s.sources {
		destPath := filepath.Join(stagingDir, src.Name+".db")
		if err := src.DB.BackupTo(ctx, destPath); err != nil {
			return fmt.Errorf("backup source %s: %w", src.Name, err)
		}
		info, err := os.Stat(destPath)
		if err != nil {
			return fmt.Errorf("stat backup for %s: %w", src.Name, err)
		}
		checksum, err := checksumFile(destPath)
		if err != nil {
			return fmt.Errorf("checksum backup for %s: %w", src.Name, err)
		}
		meta.Databases = append(meta.Databases, DatabaseMetadata{
			Name: src.Name, Filename: src.Name + ".db", SizeBytes: info.Size(), Checksum: checksum,
		})
	}

	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metadataPath, meta); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02-150405")
	archiveName := fmt.Sprintf("%s%s.tar.gz", archivePrefix, timestamp)
	archivePath := filepath.Join(stagingDir, archiveName)

	names := make([]string, 0, len(s.sources)+1)
	for _, src := range s.sources {
		names = append(names, src.Name+".db")
	}
	names = append(names, "backup-metadata.json")
	if err := createArchive(archivePath, stagingDir, names); err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	archiveInfo, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	if err := s.client.Upload(ctx, archiveName, archiveFile, archiveInfo.Size()); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(start)).
		Str("archive", archiveName).
		Int64("size_bytes", archiveInfo.Size()).
		Msg("backup uploaded")
	return nil
}

// List returns every backup in the object store, newest first.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	objects, err := s.client.List(ctx, archivePrefix)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}

	now := time.Now()
	backups := make([]Info, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, archivePrefix) || !strings.HasSuffix(obj.Key, ".tar.gz") {
			continue
		}
		ts := strings.TrimSuffix(strings.TrimPrefix(obj.Key, archivePrefix), ".tar.gz")
		timestamp, err := time.Parse("2006-01-02-150405", ts)
		if err != nil {
			s.log.Warn().Str("key", obj.Key).Msg("skipping backup with unparseable timestamp")
			continue
		}
		backups = append(backups, Info{
			Key: obj.Key, Timestamp: timestamp, SizeBytes: obj.Size,
			AgeHours: int64(now.Sub(timestamp).Hours()),
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Timestamp.After(backups[j].Timestamp) })
	return backups, nil
}

// minBackupsToKeep bounds rotation so a misconfigured retention window can
// never delete every backup the operator has.
const minBackupsToKeep = 3

// Rotate deletes backups older than retentionDays, always keeping at least
// minBackupsToKeep regardless of age. retentionDays of 0 disables rotation.
func (s *Service) Rotate(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	backups, err := s.List(ctx)
	if err != nil {
		return fmt.Errorf("list backups for rotation: %w", err)
	}
	if len(backups) <= minBackupsToKeep {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep || !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.client.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("failed to delete old backup")
			continue
		}
		deleted++
	}
	s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("backup rotation complete")
	return nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(path string, meta Metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func createArchive(archivePath, sourceDir string, filenames []string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer archiveFile.Close()

	gz := gzip.NewWriter(archiveFile)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	for _, name := range filenames {
		if err := addFile(tw, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("add %s to archive: %w", name, err)
		}
	}
	return nil
}

func addFile(tw *tar.Writer, path, nameInArchive string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := &tar.Header{
		Name:    nameInArchive,
		Size:    info.Size(),
		Mode:    int64(info.Mode()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
