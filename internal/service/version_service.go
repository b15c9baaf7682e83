package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"fileversions/internal/domain"
	"fileversions/internal/logger"
	"fileversions/internal/repository"
	"fileversions/internal/service/s3"
)

const (
	maxLabelLength  = 255
	maxAuthorLength = 64
	// restoreAttempts сколько секунд вперед ищется свободная метка времени
	restoreAttempts = 5
)

var (
	ErrVersionNotFound = repository.ErrVersionNotFound
	ErrVersionExists   = repository.ErrVersionExists
	ErrInvalidFileID   = errors.New("file id must be positive")
	ErrLabelTooLong    = fmt.Errorf("label must not exceed %d characters", maxLabelLength)
	ErrAuthorTooLong   = fmt.Errorf("author must not exceed %d characters", maxAuthorLength)
	ErrInvalidText     = errors.New("text must be valid UTF-8")
)

// checkText проверяет, что строку можно сохранить в колонку длиной limit символов
func checkText(s string, limit int, tooLong error) error {
	if !utf8.ValidString(s) {
		return ErrInvalidText
	}
	if utf8.RuneCountInString(s) > limit {
		return tooLong
	}
	return nil
}

// VersionStore хранилище записей о версиях
type VersionStore interface {
	Insert(ctx context.Context, v *domain.VersionRecord) error
	Update(ctx context.Context, v *domain.VersionRecord) error
	FindByID(ctx context.Context, id int64) (*domain.VersionRecord, error)
	ListByFileID(ctx context.Context, fileID int64) ([]*domain.VersionRecord, error)
	ListFileIDs(ctx context.Context) ([]int64, error)
	Delete(ctx context.Context, id int64) error
	DeleteByFileID(ctx context.Context, fileID int64) (int64, error)
}

// CreateVersionInput данные новой версии
type CreateVersionInput struct {
	FileID  int64
	Author  string
	Content []byte
	// At время создания версии, при нулевом значении берется текущее время
	At time.Time
}

// VersionContent запись версии вместе с её содержимым
type VersionContent struct {
	Version *domain.VersionRecord
	Content s3.S3Object
}

type VersionService struct {
	store   VersionStore
	storage s3.Storage
	policy  RetentionPolicy
	now     func() time.Time
	log     zerolog.Logger
}

func NewVersionService(store VersionStore, storage s3.Storage, policy RetentionPolicy) *VersionService {
	return &VersionService{
		store:   store,
		storage: storage,
		policy:  policy,
		now:     time.Now,
		log:     logger.Component("versions"),
	}
}

// ObjectKey возвращает ключ содержимого версии в хранилище
func ObjectKey(fileID, timestamp int64) string {
	return fmt.Sprintf("versions/%d/v%d", fileID, timestamp)
}

func objectKeyOf(v *domain.VersionRecord) string {
	fileID, _ := v.FileID()
	ts, _ := v.Timestamp()
	return ObjectKey(fileID, ts)
}

// CreateVersion сохраняет содержимое и запись новой версии файла
func (s *VersionService) CreateVersion(ctx context.Context, in CreateVersionInput) (*domain.VersionRecord, error) {
	if in.FileID <= 0 {
		return nil, ErrInvalidFileID
	}
	author := strings.TrimSpace(in.Author)
	if err := checkText(author, maxAuthorLength, ErrAuthorTooLong); err != nil {
		return nil, err
	}

	at := in.At
	if at.IsZero() {
		at = s.now()
	}

	v := domain.NewVersionRecord()
	v.SetFileID(in.FileID)
	v.SetTimestamp(at.Unix())
	if author != "" {
		v.SetAuthor(author)
	}

	// Сначала запись: уникальный индекс не даст перезаписать содержимое чужой версии
	if err := s.store.Insert(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to save version: %w", err)
	}

	if err := s.storage.UploadBytes(ctx, objectKeyOf(v), in.Content); err != nil {
		s.rollbackInsert(ctx, v)
		return nil, fmt.Errorf("failed to upload version content: %w", err)
	}

	s.log.Info().
		Int64("file_id", in.FileID).
		Int64("timestamp", at.Unix()).
		Int("size", len(in.Content)).
		Msg("version created")

	return v, nil
}

func (s *VersionService) rollbackInsert(ctx context.Context, v *domain.VersionRecord) {
	id, _ := v.ID()
	if err := s.store.Delete(ctx, id); err != nil {
		s.log.Warn().Err(err).Int64("id", id).Msg("failed to remove version record after upload error")
	}
}

// ListVersions возвращает версии файла, сначала новые
func (s *VersionService) ListVersions(ctx context.Context, fileID int64) ([]*domain.VersionRecord, error) {
	if fileID <= 0 {
		return nil, ErrInvalidFileID
	}
	return s.store.ListByFileID(ctx, fileID)
}

func (s *VersionService) GetVersion(ctx context.Context, id int64) (*domain.VersionRecord, error) {
	return s.store.FindByID(ctx, id)
}

// OpenContent открывает содержимое версии. Вызывающий закрывает Content.
func (s *VersionService) OpenContent(ctx context.Context, id int64) (*VersionContent, error) {
	v, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	obj, err := s.storage.GetObject(ctx, objectKeyOf(v))
	if err != nil {
		return nil, fmt.Errorf("failed to open version content: %w", err)
	}

	return &VersionContent{Version: v, Content: obj}, nil
}

// SetLabel задает метку версии. Пустая метка снимает её.
func (s *VersionService) SetLabel(ctx context.Context, id int64, label string) (*domain.VersionRecord, error) {
	label = strings.TrimSpace(label)
	if err := checkText(label, maxLabelLength, ErrLabelTooLong); err != nil {
		return nil, err
	}

	v, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if label == "" {
		v.ClearLabel()
	} else {
		v.SetLabel(label)
	}

	if err := s.store.Update(ctx, v); err != nil {
		return nil, fmt.Errorf("failed to update version label: %w", err)
	}
	return v, nil
}

// RestoreVersion делает содержимое выбранной версии самой новой версией файла.
// Если текущая секунда уже занята другой версией, берется следующая свободная.
func (s *VersionService) RestoreVersion(ctx context.Context, id int64, author string) (*domain.VersionRecord, error) {
	author = strings.TrimSpace(author)
	if err := checkText(author, maxAuthorLength, ErrAuthorTooLong); err != nil {
		return nil, err
	}

	src, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	fileID, _ := src.FileID()
	restored := domain.NewVersionRecord()
	restored.SetFileID(fileID)
	if author != "" {
		restored.SetAuthor(author)
	}

	ts := s.now().Unix()
	for attempt := 1; ; attempt++ {
		restored.SetTimestamp(ts)
		err = s.store.Insert(ctx, restored)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrVersionExists) || attempt == restoreAttempts {
			return nil, fmt.Errorf("failed to save restored version: %w", err)
		}
		ts++
	}

	if err := s.storage.CopyObject(ctx, objectKeyOf(src), objectKeyOf(restored)); err != nil {
		s.rollbackInsert(ctx, restored)
		return nil, fmt.Errorf("failed to copy version content: %w", err)
	}

	s.log.Info().Int64("file_id", fileID).Int64("source_id", id).Int64("timestamp", ts).Msg("version restored")
	return restored, nil
}

// DeleteVersion удаляет содержимое и запись версии
func (s *VersionService) DeleteVersion(ctx context.Context, id int64) error {
	v, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return s.deleteVersion(ctx, v)
}

func (s *VersionService) deleteVersion(ctx context.Context, v *domain.VersionRecord) error {
	if err := s.storage.DeleteObject(ctx, objectKeyOf(v)); err != nil {
		return fmt.Errorf("failed to delete version content: %w", err)
	}
	id, _ := v.ID()
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete version record: %w", err)
	}
	return nil
}

// DeleteFileVersions удаляет все версии файла, например при удалении самого файла
func (s *VersionService) DeleteFileVersions(ctx context.Context, fileID int64) (int64, error) {
	if fileID <= 0 {
		return 0, ErrInvalidFileID
	}

	versions, err := s.store.ListByFileID(ctx, fileID)
	if err != nil {
		return 0, err
	}

	for _, v := range versions {
		if err := s.storage.DeleteObject(ctx, objectKeyOf(v)); err != nil {
			return 0, fmt.Errorf("failed to delete version content: %w", err)
		}
	}

	return s.store.DeleteByFileID(ctx, fileID)
}

// ExpireVersions удаляет версии файла согласно политике хранения
func (s *VersionService) ExpireVersions(ctx context.Context, fileID int64, now time.Time) ([]*domain.VersionRecord, error) {
	if fileID <= 0 {
		return nil, ErrInvalidFileID
	}
	if !s.policy.Enabled() {
		return nil, nil
	}

	versions, err := s.store.ListByFileID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	var (
		deleted []*domain.VersionRecord
		errs    []error
	)
	for _, v := range s.policy.ExpireList(now, versions) {
		if err := s.deleteVersion(ctx, v); err != nil {
			s.log.Warn().Err(err).Int64("file_id", fileID).Msg("failed to expire version")
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, v)
	}

	if len(deleted) > 0 {
		s.log.Info().Int64("file_id", fileID).Int("count", len(deleted)).Msg("versions expired")
	}
	return deleted, errors.Join(errs...)
}

// ExpireAll применяет политику хранения ко всем файлам с версиями
func (s *VersionService) ExpireAll(ctx context.Context, now time.Time) (int, error) {
	if !s.policy.Enabled() {
		return 0, nil
	}

	fileIDs, err := s.store.ListFileIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	var errs []error
	for _, fileID := range fileIDs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := s.ExpireVersions(ctx, fileID, now)
		total += len(deleted)
		if err != nil {
			errs = append(errs, fmt.Errorf("file %d: %w", fileID, err))
		}
	}
	return total, errors.Join(errs...)
}
