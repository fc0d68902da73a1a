// Package sessionstore persists review session logs, one JSON file per reviewer.
//
// Writes replace the whole file atomically: the new log is written to a temporary file in the same directory, synced,
// and renamed over the old one while an exclusive lock on the directory's lock file is held. A crash mid-write leaves
// either the old or the new log on disk, never a torn one.
package sessionstore

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/myrjola/valuebench/internal/errors"
	"github.com/myrjola/valuebench/internal/models"
	"golang.org/x/sys/unix"
)

var ErrInvalidReviewerID = errors.NewSentinel("invalid reviewer id")

var reviewerIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

const (
	filePrefix = "session_"
	fileSuffix = ".json"
	lockName   = ".lock"
)

type FileStore struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: logger.With("source", "SessionStore"),
		now:    time.Now,
	}
}

// NormalizeReviewerID lower-cases and trims id and checks that it is usable as a file name component.
func NormalizeReviewerID(id string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(id))
	if !reviewerIDPattern.MatchString(normalized) {
		return "", errors.Wrap(ErrInvalidReviewerID, "normalize reviewer id", slog.String("reviewer_id", id))
	}
	return normalized, nil
}

func (s *FileStore) path(reviewerID string) string {
	return filepath.Join(s.dir, filePrefix+reviewerID+fileSuffix)
}

// Load returns the persisted log of the reviewer. A reviewer without a session file gets a fresh, empty log that is
// not written until the first Save.
func (s *FileStore) Load(ctx context.Context, reviewerID string) (*models.SessionLog, error) {
	id, err := NormalizeReviewerID(reviewerID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		now := s.now().UTC()
		s.logger.LogAttrs(ctx, slog.LevelDebug, "starting new session", slog.String("reviewer_id", id))
		return &models.SessionLog{ReviewerID: id, StartedAt: now, UpdatedAt: now, Evaluations: nil}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session file", slog.String("reviewer_id", id))
	}
	var log models.SessionLog
	if err = json.Unmarshal(data, &log); err != nil {
		return nil, errors.Wrap(err, "decode session file", slog.String("reviewer_id", id))
	}
	if log.ReviewerID != id {
		return nil, errors.New("session file belongs to another reviewer",
			slog.String("reviewer_id", id), slog.String("file_reviewer_id", log.ReviewerID))
	}
	return &log, nil
}

// Save durably replaces the reviewer's session file with log.
func (s *FileStore) Save(ctx context.Context, log *models.SessionLog) error {
	id, err := NormalizeReviewerID(log.ReviewerID)
	if err != nil {
		return err
	}
	log.UpdatedAt = s.now().UTC()
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session log")
	}
	err = s.locked(func() error {
		return writeAtomic(s.dir, s.path(id), data)
	})
	if err != nil {
		return errors.Wrap(err, "save session", slog.String("reviewer_id", id))
	}
	s.logger.LogAttrs(ctx, slog.LevelDebug, "saved session",
		slog.String("reviewer_id", id), slog.Int("evaluations", len(log.Evaluations)))
	return nil
}

// Reset deletes the reviewer's session file. Resetting a reviewer without a session is not an error.
func (s *FileStore) Reset(ctx context.Context, reviewerID string) error {
	id, err := NormalizeReviewerID(reviewerID)
	if err != nil {
		return err
	}
	err = s.locked(func() error {
		if removeErr := os.Remove(s.path(id)); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			return errors.Wrap(removeErr, "remove session file")
		}
		return syncDir(s.dir)
	})
	if err != nil {
		return errors.Wrap(err, "reset session", slog.String("reviewer_id", id))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "reset session", slog.String("reviewer_id", id))
	return nil
}

// LoadAll returns the logs of every reviewer with a session file, ordered by reviewer id.
func (s *FileStore) LoadAll(ctx context.Context) ([]*models.SessionLog, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read sessions directory")
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	}
	sort.Strings(ids)
	logs := make([]*models.SessionLog, 0, len(ids))
	for _, id := range ids {
		var log *models.SessionLog
		if log, err = s.Load(ctx, id); err != nil {
			return nil, errors.Wrap(err, "load session")
		}
		logs = append(logs, log)
	}
	return logs, nil
}

// locked runs fn while holding an exclusive flock on the directory's lock file.
func (s *FileStore) locked(fn func() error) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return errors.Wrap(err, "create sessions directory")
	}
	lock, err := os.OpenFile(filepath.Join(s.dir, lockName), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return errors.Wrap(err, "open lock file")
	}
	defer func() {
		_ = lock.Close()
	}()
	if err = unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return errors.Wrap(err, "acquire session lock")
	}
	defer func() {
		_ = unix.Flock(int(lock.Fd()), unix.LOCK_UN)
	}()
	return fn()
}

func writeAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temporary file")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return errors.Wrap(err, "write temporary file")
	}
	if err = tmp.Sync(); err != nil {
		return errors.Wrap(err, "sync temporary file")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close temporary file")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "replace session file")
	}
	committed = true
	return syncDir(dir)
}

// syncDir makes a rename or removal in dir durable.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "open directory")
	}
	defer func() {
		_ = d.Close()
	}()
	if err = d.Sync(); err != nil {
		return errors.Wrap(err, "sync directory")
	}
	return nil
}
