package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/tokengate/internal/domain"
)

const exGroupID = "-1003333"

// --- mocks ---

type mockGroupStore struct{ mock.Mock }

func (m *mockGroupStore) Get(ctx context.Context, groupID string) (*domain.GroupConfig, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GroupConfig), args.Error(1)
}

func (m *mockGroupStore) Scan(ctx context.Context) ([]domain.GroupConfig, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.GroupConfig), args.Error(1)
}

type mockUserStore struct{ mock.Mock }

func (m *mockUserStore) ListVerifiedByGroup(ctx context.Context, groupID string) ([]domain.UserRecord, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.UserRecord), args.Error(1)
}

type mockWhitelistStore struct{ mock.Mock }

func (m *mockWhitelistStore) Scan(ctx context.Context) ([]domain.WhitelistEntry, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.WhitelistEntry), args.Error(1)
}

type mockPendingStore struct{ mock.Mock }

func (m *mockPendingStore) Scan(ctx context.Context) ([]domain.PendingWhitelistRequest, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PendingWhitelistRequest), args.Error(1)
}

type mockRejectedStore struct{ mock.Mock }

func (m *mockRejectedStore) Scan(ctx context.Context) ([]domain.RejectedGroup, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RejectedGroup), args.Error(1)
}

type mockObjectStore struct{ mock.Mock }

func (m *mockObjectStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, r, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockObjectStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

// --- builder ---

type exportMocks struct {
	groups    *mockGroupStore
	users     *mockUserStore
	whitelist *mockWhitelistStore
	pending   *mockPendingStore
	rejected  *mockRejectedStore
	store     *mockObjectStore
}

func newExport() (Service, *exportMocks) {
	m := &exportMocks{
		groups:    new(mockGroupStore),
		users:     new(mockUserStore),
		whitelist: new(mockWhitelistStore),
		pending:   new(mockPendingStore),
		rejected:  new(mockRejectedStore),
		store:     new(mockObjectStore),
	}
	svc := NewService(ServiceDeps{
		GroupRepo:     m.groups,
		UserRepo:      m.users,
		WhitelistRepo: m.whitelist,
		PendingRepo:   m.pending,
		RejectedRepo:  m.rejected,
		ObjectStore:   m.store,
		Logger:        zap.NewNop(),
	})
	return svc, m
}

func TestExport_UploadsSnapshotAndSignsURL(t *testing.T) {
	svc, m := newExport()

	m.groups.On("Get", mock.Anything, exGroupID).
		Return(&domain.GroupConfig{GroupID: exGroupID, MinBalance: "5"}, nil)
	m.users.On("ListVerifiedByGroup", mock.Anything, exGroupID).
		Return([]domain.UserRecord{
			{GroupID: exGroupID, UserID: "1", Verified: true},
			{GroupID: exGroupID, UserID: "2", Verified: true},
		}, nil)

	var uploadedKey string
	var uploadedBody []byte
	m.store.On("Upload", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "exports/"+exGroupID+"/") && strings.HasSuffix(key, ".json")
	}), mock.Anything, "application/json").
		Run(func(args mock.Arguments) {
			uploadedKey = args.String(1)
			uploadedBody, _ = io.ReadAll(args.Get(2).(io.Reader))
		}).Return("https://bucket/object", nil)
	m.store.On("PresignedURL", mock.Anything, mock.MatchedBy(func(key string) bool {
		return key == uploadedKey
	}), time.Hour).Return("https://signed/export", nil)

	url, err := svc.Export(context.Background(), exGroupID)

	assert.NoError(t, err)
	assert.Equal(t, "https://signed/export", url)

	var snap Snapshot
	assert.NoError(t, json.Unmarshal(uploadedBody, &snap))
	assert.Equal(t, exGroupID, snap.Group.GroupID)
	assert.Len(t, snap.Members, 2)
	assert.False(t, snap.ExportedAt.IsZero())
}

func TestExport_UnknownGroup(t *testing.T) {
	svc, m := newExport()

	m.groups.On("Get", mock.Anything, exGroupID).Return(nil, domain.ErrNotFound)

	url, err := svc.Export(context.Background(), exGroupID)

	assert.Empty(t, url)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	m.store.AssertNotCalled(t, "Upload")
}

func TestExport_UploadFailure(t *testing.T) {
	svc, m := newExport()

	m.groups.On("Get", mock.Anything, exGroupID).
		Return(&domain.GroupConfig{GroupID: exGroupID}, nil)
	m.users.On("ListVerifiedByGroup", mock.Anything, exGroupID).
		Return([]domain.UserRecord{}, nil)
	m.store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("s3 unreachable"))

	url, err := svc.Export(context.Background(), exGroupID)

	assert.Empty(t, url)
	assert.Error(t, err)
	m.store.AssertNotCalled(t, "PresignedURL")
}

func TestSnapshotAll_DumpsEverything(t *testing.T) {
	svc, m := newExport()

	m.groups.On("Scan", mock.Anything).Return([]domain.GroupConfig{
		{GroupID: "-100a"}, {GroupID: "-100b"},
	}, nil)
	m.users.On("ListVerifiedByGroup", mock.Anything, "-100a").
		Return([]domain.UserRecord{{GroupID: "-100a", UserID: "1", Verified: true}}, nil)
	m.users.On("ListVerifiedByGroup", mock.Anything, "-100b").
		Return([]domain.UserRecord{}, nil)
	m.whitelist.On("Scan", mock.Anything).
		Return([]domain.WhitelistEntry{{GroupID: "-100a", Whitelisted: true}}, nil)
	m.pending.On("Scan", mock.Anything).
		Return([]domain.PendingWhitelistRequest{{GroupID: "-100c"}}, nil)
	m.rejected.On("Scan", mock.Anything).
		Return([]domain.RejectedGroup{{GroupID: "-100d", RejectionCount: 3, Blocked: true}}, nil)

	var uploadedBody []byte
	m.store.On("Upload", mock.Anything, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "exports/") && strings.HasSuffix(key, ".json") &&
			!strings.Contains(strings.TrimPrefix(key, "exports/"), "/")
	}), mock.Anything, "application/json").
		Run(func(args mock.Arguments) {
			uploadedBody, _ = io.ReadAll(args.Get(2).(io.Reader))
		}).Return("https://bucket/object", nil)
	m.store.On("PresignedURL", mock.Anything, mock.Anything, time.Hour).
		Return("https://signed/full", nil)

	url, err := svc.SnapshotAll(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, "https://signed/full", url)

	var snap FullSnapshot
	assert.NoError(t, json.Unmarshal(uploadedBody, &snap))
	assert.Len(t, snap.Groups, 2)
	assert.Len(t, snap.Members["-100a"], 1)
	assert.Empty(t, snap.Members["-100b"])
	assert.Len(t, snap.Whitelist, 1)
	assert.Len(t, snap.Pending, 1)
	assert.Len(t, snap.Rejected, 1)
}

func TestSnapshotAll_ScanFailureAborts(t *testing.T) {
	svc, m := newExport()

	m.groups.On("Scan", mock.Anything).Return([]domain.GroupConfig{{GroupID: "-100a"}}, nil)
	m.users.On("ListVerifiedByGroup", mock.Anything, "-100a").Return([]domain.UserRecord{}, nil)
	m.whitelist.On("Scan", mock.Anything).
		Return(nil, errors.New("dynamo unreachable"))

	url, err := svc.SnapshotAll(context.Background())

	assert.Empty(t, url)
	assert.Error(t, err)
	m.store.AssertNotCalled(t, "Upload")
}
