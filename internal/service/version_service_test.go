package service_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"fileversions/internal/domain"
	"fileversions/internal/repository"
	"fileversions/internal/service"
	"fileversions/internal/service/s3"
)

// --- Mocks ---

type MockVersionStore struct {
	mock.Mock
}

func (m *MockVersionStore) Insert(ctx context.Context, v *domain.VersionRecord) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *MockVersionStore) Update(ctx context.Context, v *domain.VersionRecord) error {
	args := m.Called(ctx, v)
	return args.Error(0)
}

func (m *MockVersionStore) FindByID(ctx context.Context, id int64) (*domain.VersionRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VersionRecord), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockVersionStore) ListByFileID(ctx context.Context, fileID int64) ([]*domain.VersionRecord, error) {
	args := m.Called(ctx, fileID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.VersionRecord), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockVersionStore) ListFileIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockVersionStore) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockVersionStore) DeleteByFileID(ctx context.Context, fileID int64) (int64, error) {
	args := m.Called(ctx, fileID)
	return args.Get(0).(int64), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) UploadBytes(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *MockStorage) GetObject(ctx context.Context, key string) (s3.S3Object, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(s3.S3Object), args.Error(1) //nolint:errcheck // Acceptable for mocks
}

func (m *MockStorage) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	args := m.Called(ctx, srcKey, dstKey)
	return args.Error(0)
}

func (m *MockStorage) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type stubObject struct {
	io.Reader
}

func (stubObject) Close() error         { return nil }
func (stubObject) ContentLength() int64 { return 4 }
func (stubObject) ContentType() string  { return "text/plain" }

var fixedNow = time.Unix(1700000000, 0)

func newTestService(policy service.RetentionPolicy) (*service.VersionService, *MockVersionStore, *MockStorage) {
	store := new(MockVersionStore)
	storage := new(MockStorage)
	svc := service.NewVersionService(store, storage, policy)
	svc.SetClock(func() time.Time { return fixedNow })
	return svc, store, storage
}

func assignID(id int64) func(mock.Arguments) {
	return func(args mock.Arguments) {
		args.Get(1).(*domain.VersionRecord).SetID(id) //nolint:errcheck // Acceptable for mocks
	}
}

// --- Tests ---

func TestVersionService_CreateVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		store.On("Insert", ctx, mock.AnythingOfType("*domain.VersionRecord")).Return(nil).Run(assignID(7))
		storage.On("UploadBytes", ctx, "versions/42/v1700000000", []byte("data")).Return(nil)

		v, err := svc.CreateVersion(ctx, service.CreateVersionInput{FileID: 42, Author: " alice ", Content: []byte("data")})

		require.NoError(t, err)
		ext := v.ToExternal()
		assert.Equal(t, int64(7), *ext.ID)
		assert.Equal(t, int64(42), *ext.FileID)
		assert.Equal(t, fixedNow.Unix(), *ext.Timestamp)
		assert.Equal(t, "alice", *ext.Author)
		assert.Nil(t, ext.Label)
		store.AssertExpectations(t)
		storage.AssertExpectations(t)
	})

	t.Run("explicit time and no author", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		at := time.Unix(1600000000, 0)
		store.On("Insert", ctx, mock.Anything).Return(nil).Run(assignID(1))
		storage.On("UploadBytes", ctx, "versions/42/v1600000000", []byte(nil)).Return(nil)

		v, err := svc.CreateVersion(ctx, service.CreateVersionInput{FileID: 42, At: at})

		require.NoError(t, err)
		_, ok := v.Author()
		assert.False(t, ok)
	})

	t.Run("invalid file id", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})

		_, err := svc.CreateVersion(ctx, service.CreateVersionInput{FileID: 0})

		require.ErrorIs(t, err, service.ErrInvalidFileID)
		store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		storage.AssertNotCalled(t, "UploadBytes", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("author longer than column", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})

		_, err := svc.CreateVersion(ctx, service.CreateVersionInput{FileID: 42, Author: strings.Repeat("u", 65)})

		require.ErrorIs(t, err, service.ErrAuthorTooLong)
		store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		storage.AssertNotCalled(t, "UploadBytes", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("author at column limit", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		author := strings.Repeat("ю", 64)
		store.On("Insert", ctx, mock.Anything).Return(nil).Run(assignID(3))
		storage.On("UploadBytes", ctx, mock.Anything, mock.Anything).Return(nil)

		v, err := svc.CreateVersion(ctx, service.CreateVersionInput{FileID: 42, Author: author})

		require.NoError(t, err)
		got, _ := v.Author()
		assert.Equal(t, author, got)
	})

	t.Run("author is not valid UTF-8", func(t *testing.T) {
		svc, store, _ := newTestService(service.RetentionPolicy{})

		_, err := svc.CreateVersion(ctx, service.CreateVersionInput{FileID: 42, Author: "bob\xff"})

		require.ErrorIs(t, err, service.ErrInvalidText)
		store.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	})

	t.Run("duplicate timestamp does not touch storage", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		store.On("Insert", ctx, mock.Anything).Return(repository.ErrVersionExists)

		_, err := svc.CreateVersion(ctx, service.CreateVersionInput{FileID: 42, Content: []byte("x")})

		require.ErrorIs(t, err, service.ErrVersionExists)
		storage.AssertNotCalled(t, "UploadBytes", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("upload failure removes record", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		store.On("Insert", ctx, mock.Anything).Return(nil).Run(assignID(9))
		storage.On("UploadBytes", ctx, mock.Anything, mock.Anything).Return(errors.New("s3 down"))
		store.On("Delete", ctx, int64(9)).Return(nil)

		_, err := svc.CreateVersion(ctx, service.CreateVersionInput{FileID: 42, Content: []byte("x")})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to upload version content")
		store.AssertExpectations(t)
	})
}

func TestVersionService_ListVersions(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(service.RetentionPolicy{})
	versions := []*domain.VersionRecord{record(2, 200), record(1, 100)}
	store.On("ListByFileID", ctx, int64(42)).Return(versions, nil)

	got, err := svc.ListVersions(ctx, 42)

	require.NoError(t, err)
	assert.Equal(t, versions, got)

	_, err = svc.ListVersions(ctx, -1)
	assert.ErrorIs(t, err, service.ErrInvalidFileID)
}

func TestVersionService_OpenContent(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		store.On("FindByID", ctx, int64(1)).Return(record(1, 100), nil)
		storage.On("GetObject", ctx, "versions/42/v100").Return(stubObject{strings.NewReader("data")}, nil)

		vc, err := svc.OpenContent(ctx, 1)

		require.NoError(t, err)
		defer vc.Content.Close()
		data, err := io.ReadAll(vc.Content)
		require.NoError(t, err)
		assert.Equal(t, "data", string(data))
	})

	t.Run("missing record", func(t *testing.T) {
		svc, store, _ := newTestService(service.RetentionPolicy{})
		store.On("FindByID", ctx, int64(1)).Return(nil, repository.ErrVersionNotFound)

		_, err := svc.OpenContent(ctx, 1)

		assert.ErrorIs(t, err, service.ErrVersionNotFound)
	})

	t.Run("missing blob", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		store.On("FindByID", ctx, int64(1)).Return(record(1, 100), nil)
		storage.On("GetObject", ctx, "versions/42/v100").Return(nil, s3.ErrObjectNotFound)

		_, err := svc.OpenContent(ctx, 1)

		assert.ErrorIs(t, err, s3.ErrObjectNotFound)
	})
}

func TestVersionService_SetLabel(t *testing.T) {
	ctx := context.Background()

	t.Run("sets trimmed label", func(t *testing.T) {
		svc, store, _ := newTestService(service.RetentionPolicy{})
		store.On("FindByID", ctx, int64(1)).Return(record(1, 100), nil)
		store.On("Update", ctx, mock.MatchedBy(func(v *domain.VersionRecord) bool {
			label, ok := v.Label()
			return ok && label == "release"
		})).Return(nil)

		v, err := svc.SetLabel(ctx, 1, "  release ")

		require.NoError(t, err)
		label, _ := v.Label()
		assert.Equal(t, "release", label)
		store.AssertExpectations(t)
	})

	t.Run("empty label clears it", func(t *testing.T) {
		svc, store, _ := newTestService(service.RetentionPolicy{})
		labeled := record(1, 100)
		labeled.SetLabel("old")
		store.On("FindByID", ctx, int64(1)).Return(labeled, nil)
		store.On("Update", ctx, labeled).Return(nil)

		v, err := svc.SetLabel(ctx, 1, "   ")

		require.NoError(t, err)
		_, ok := v.Label()
		assert.False(t, ok)
	})

	t.Run("too long", func(t *testing.T) {
		svc, store, _ := newTestService(service.RetentionPolicy{})

		_, err := svc.SetLabel(ctx, 1, strings.Repeat("я", 256))

		require.ErrorIs(t, err, service.ErrLabelTooLong)
		store.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("invalid UTF-8", func(t *testing.T) {
		svc, store, _ := newTestService(service.RetentionPolicy{})

		_, err := svc.SetLabel(ctx, 1, "draft\xc3")

		require.ErrorIs(t, err, service.ErrInvalidText)
		store.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})
}

func TestVersionService_RestoreVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		store.On("FindByID", ctx, int64(1)).Return(record(1, 100), nil)
		store.On("Insert", ctx, mock.Anything).Return(nil).Run(assignID(5))
		storage.On("CopyObject", ctx, "versions/42/v100", "versions/42/v1700000000").Return(nil)

		v, err := svc.RestoreVersion(ctx, 1, "bob")

		require.NoError(t, err)
		id, _ := v.ID()
		assert.Equal(t, int64(5), id)
		author, _ := v.Author()
		assert.Equal(t, "bob", author)
		storage.AssertExpectations(t)
	})

	t.Run("busy second moves to the next one", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		store.On("FindByID", ctx, int64(1)).Return(record(1, 100), nil)
		store.On("Insert", ctx, mock.Anything).Return(repository.ErrVersionExists).Once()
		store.On("Insert", ctx, mock.Anything).Return(nil).Run(assignID(6)).Once()
		storage.On("CopyObject", ctx, "versions/42/v100", "versions/42/v1700000001").Return(nil)

		v, err := svc.RestoreVersion(ctx, 1, "bob")

		require.NoError(t, err)
		ts, _ := v.Timestamp()
		assert.Equal(t, fixedNow.Unix()+1, ts)
		store.AssertExpectations(t)
		storage.AssertExpectations(t)
	})

	t.Run("gives up after repeated conflicts", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		store.On("FindByID", ctx, int64(1)).Return(record(1, 100), nil)
		store.On("Insert", ctx, mock.Anything).Return(repository.ErrVersionExists)

		_, err := svc.RestoreVersion(ctx, 1, "bob")

		require.ErrorIs(t, err, service.ErrVersionExists)
		store.AssertNumberOfCalls(t, "Insert", 5)
		storage.AssertNotCalled(t, "CopyObject", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("author longer than column", func(t *testing.T) {
		svc, store, _ := newTestService(service.RetentionPolicy{})

		_, err := svc.RestoreVersion(ctx, 1, strings.Repeat("u", 65))

		require.ErrorIs(t, err, service.ErrAuthorTooLong)
		store.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	t.Run("copy failure removes record", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{})
		store.On("FindByID", ctx, int64(1)).Return(record(1, 100), nil)
		store.On("Insert", ctx, mock.Anything).Return(nil).Run(assignID(5))
		storage.On("CopyObject", ctx, mock.Anything, mock.Anything).Return(s3.ErrObjectNotFound)
		store.On("Delete", ctx, int64(5)).Return(nil)

		_, err := svc.RestoreVersion(ctx, 1, "bob")

		require.ErrorIs(t, err, s3.ErrObjectNotFound)
		store.AssertExpectations(t)
	})
}

func TestVersionService_DeleteVersion(t *testing.T) {
	ctx := context.Background()
	svc, store, storage := newTestService(service.RetentionPolicy{})
	store.On("FindByID", ctx, int64(1)).Return(record(1, 100), nil)
	storage.On("DeleteObject", ctx, "versions/42/v100").Return(nil)
	store.On("Delete", ctx, int64(1)).Return(nil)

	require.NoError(t, svc.DeleteVersion(ctx, 1))
	store.AssertExpectations(t)
	storage.AssertExpectations(t)
}

func TestVersionService_DeleteFileVersions(t *testing.T) {
	ctx := context.Background()
	svc, store, storage := newTestService(service.RetentionPolicy{})
	store.On("ListByFileID", ctx, int64(42)).Return([]*domain.VersionRecord{record(2, 200), record(1, 100)}, nil)
	storage.On("DeleteObject", ctx, "versions/42/v200").Return(nil)
	storage.On("DeleteObject", ctx, "versions/42/v100").Return(nil)
	store.On("DeleteByFileID", ctx, int64(42)).Return(int64(2), nil)

	n, err := svc.DeleteFileVersions(ctx, 42)

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	storage.AssertExpectations(t)
}

func TestVersionService_ExpireVersions(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_000_000, 0)

	t.Run("deletes expired versions", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{Auto: true})
		store.On("ListByFileID", ctx, int64(42)).Return([]*domain.VersionRecord{
			record(1, 999_999), record(2, 999_998), record(3, 999_997),
		}, nil)
		storage.On("DeleteObject", ctx, "versions/42/v999998").Return(nil)
		store.On("Delete", ctx, int64(2)).Return(nil)

		deleted, err := svc.ExpireVersions(ctx, 42, now)

		require.NoError(t, err)
		assert.Equal(t, []int64{999_998}, timestamps(deleted))
		storage.AssertExpectations(t)
		store.AssertExpectations(t)
	})

	t.Run("continues after a failure", func(t *testing.T) {
		svc, store, storage := newTestService(service.RetentionPolicy{Auto: true})
		store.On("ListByFileID", ctx, int64(42)).Return([]*domain.VersionRecord{
			record(1, 999_999), record(2, 999_998), record(3, 999_997), record(4, 999_996),
		}, nil)
		storage.On("DeleteObject", ctx, "versions/42/v999998").Return(errors.New("s3 down"))
		storage.On("DeleteObject", ctx, "versions/42/v999996").Return(nil)
		store.On("Delete", ctx, int64(4)).Return(nil)

		deleted, err := svc.ExpireVersions(ctx, 42, now)

		require.Error(t, err)
		assert.Equal(t, []int64{999_996}, timestamps(deleted))
	})

	t.Run("disabled policy", func(t *testing.T) {
		svc, store, _ := newTestService(service.RetentionPolicy{})

		deleted, err := svc.ExpireVersions(ctx, 42, now)

		require.NoError(t, err)
		assert.Empty(t, deleted)
		store.AssertNotCalled(t, "ListByFileID", mock.Anything, mock.Anything)
	})
}

func TestVersionService_ExpireAll(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_000_000, 0)
	svc, store, storage := newTestService(service.RetentionPolicy{Auto: true})
	store.On("ListFileIDs", ctx).Return([]int64{42, 43}, nil)
	store.On("ListByFileID", ctx, int64(42)).Return([]*domain.VersionRecord{record(1, 999_999), record(2, 999_998)}, nil)
	store.On("ListByFileID", ctx, int64(43)).Return([]*domain.VersionRecord{record(3, 999_999)}, nil)
	storage.On("DeleteObject", ctx, "versions/42/v999998").Return(nil)
	store.On("Delete", ctx, int64(2)).Return(nil)

	total, err := svc.ExpireAll(ctx, now)

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	store.AssertExpectations(t)
}
