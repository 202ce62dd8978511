package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/mediavault/internal/config"
	dserrors "github.com/systmms/mediavault/internal/errors"
	"github.com/systmms/mediavault/internal/logging"
	"github.com/systmms/mediavault/internal/metrics"
	"github.com/systmms/mediavault/internal/pool"
	"github.com/systmms/mediavault/internal/providers"
	"github.com/systmms/mediavault/internal/storage"
	"github.com/systmms/mediavault/internal/topology"
	"github.com/systmms/mediavault/tests/fakes"
)

func payload(password, bucket string) string {
	return fmt.Sprintf(`{"username":"media_app","password":%q,"endpoints":{"primary":"writer.db","secondary":"reader.db","global":"global.db"},"bucketName":%q,"cdnBaseUrl":"https://cdn.example.com"}`, password, bucket)
}

type env struct {
	store *fakes.FakeStore
	s3    *fakes.FakeS3Client
	core  *Core

	mu      sync.Mutex
	opens   []string
	mocks   map[string]sqlmock.Sqlmock
	buckets []string
}

func newEnv(t *testing.T, secret string) *env {
	e := &env{
		store: fakes.NewFakeStore(secret),
		s3:    fakes.NewFakeS3Client("media", "media-v2"),
		mocks: make(map[string]sqlmock.Sqlmock),
	}

	opener := pool.OpenerFunc(func(ctx context.Context, target pool.Target) (pool.DB, error) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)

		label := fmt.Sprintf("%s/%s", target.Role, target.Password)
		e.mu.Lock()
		e.opens = append(e.opens, label)
		e.mocks[label] = mock
		e.mu.Unlock()
		return db, nil
	})

	factory := storage.NewS3Factory(providers.AWSOptions{}, storage.WithS3Client(e.s3), storage.WithBucketCheck(true))
	countingFactory := storage.FactoryFunc(func(ctx context.Context, region, bucket string) (*storage.Handle, error) {
		e.mu.Lock()
		e.buckets = append(e.buckets, bucket)
		e.mu.Unlock()
		return factory.New(ctx, region, bucket)
	})

	core, err := New(Options{
		Region:         "us-west-2",
		PrimaryRegion:  "us-east-1",
		Store:          e.store,
		SecretName:     "media/db",
		Pool:           pool.Options{Driver: "postgres", Opener: opener},
		StorageFactory: countingFactory,
	})
	require.NoError(t, err)
	t.Cleanup(core.Close)
	e.core = core
	return e
}

func (e *env) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.opens)
}

func TestStart_BuildsEverything(t *testing.T) {
	t.Parallel()
	e := newEnv(t, payload("pw1", "media"))

	require.NoError(t, e.core.Start(context.Background()))

	assert.Equal(t, 3, e.openCount())
	assert.Equal(t, "reader.db", e.core.Pools().Current(topology.Reader).Target().Host)
	assert.Equal(t, "writer.db", e.core.Pools().Current(topology.Writer).Target().Host)
	assert.Equal(t, "global.db", e.core.Pools().Current(topology.Global).Target().Host)

	h := e.core.Storage().Current()
	require.NotNil(t, h)
	assert.Equal(t, "media", h.Bucket)
	assert.Equal(t, "us-west-2", h.Region)

	pub, err := e.core.CurrentPublicConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "media", pub.BucketName)
	assert.Equal(t, "https://cdn.example.com", pub.CDNBaseURL)
	assert.Equal(t, 1, e.store.Calls())
}

func TestStart_UnreachableStoreCreatesNoPools(t *testing.T) {
	t.Parallel()
	e := newEnv(t, payload("pw1", "media"))
	e.store.SetError(errors.New("dial tcp: lookup secretsmanager.us-east-1.amazonaws.com: no such host"))

	err := e.core.Start(context.Background())

	var fetchErr *dserrors.SecretFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.True(t, dserrors.IsStartupFatal(err))
	assert.Equal(t, 0, e.openCount())
	for _, role := range topology.AllRoles {
		assert.Nil(t, e.core.Pools().Current(role))
	}
	assert.Nil(t, e.core.Storage().Current())
}

func TestStart_MalformedSecret(t *testing.T) {
	t.Parallel()
	e := newEnv(t, `{"username":"media_app"`)

	err := e.core.Start(context.Background())

	var parseErr *dserrors.ConfigParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 0, e.openCount())
}

func TestStart_MissingBucketIsFatal(t *testing.T) {
	t.Parallel()
	e := newEnv(t, payload("pw1", "not-there"))

	err := e.core.Start(context.Background())

	var connErr *dserrors.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, storage.Role, connErr.Role)
}

func TestRunQuery(t *testing.T) {
	t.Parallel()
	e := newEnv(t, payload("pw1", "media"))
	require.NoError(t, e.core.Start(context.Background()))

	e.mu.Lock()
	mock := e.mocks["writer/pw1"]
	e.mu.Unlock()
	mock.ExpectQuery("INSERT INTO media").
		WithArgs("cat.jpg").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	res, err := e.core.RunQuery(context.Background(), topology.Writer, "INSERT INTO media(filename) VALUES($1) RETURNING id", "cat.jpg")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, int64(7), res.Rows[0]["id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefresh_BucketChangeRebuildsOnlyStorage(t *testing.T) {
	t.Parallel()
	e := newEnv(t, payload("pw1", "media"))
	ctx := context.Background()
	require.NoError(t, e.core.Start(ctx))

	e.store.Set(payload("pw1", "media-v2"))
	snap, err := e.core.Cache().Refresh(ctx, true)
	require.NoError(t, err)
	require.NoError(t, snap.ListenerErr)
	assert.True(t, snap.Changes.BucketChanged)
	assert.False(t, snap.Changes.CredentialsOrEndpointsChanged)

	assert.Equal(t, "media-v2", e.core.Storage().Current().Bucket)
	assert.Equal(t, 3, e.openCount())

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, []string{"media", "media-v2"}, e.buckets)
}

func TestNew_RequiresStoreAndFactory(t *testing.T) {
	t.Parallel()
	noStorage := storage.FactoryFunc(func(ctx context.Context, region, bucket string) (*storage.Handle, error) {
		return nil, errors.New("unused")
	})
	_, err := New(Options{StorageFactory: noStorage})
	assert.Error(t, err)

	_, err = New(Options{Store: fakes.NewFakeStore("{}")})
	assert.Error(t, err)
}

func TestNewFromConfig_RegistersMetrics(t *testing.T) {
	t.Setenv("AWS_PROFILE", "")
	disabled := false
	def := &config.Definition{
		Region:        "us-west-2",
		PrimaryRegion: "us-east-1",
		Secret:        config.SecretConfig{Store: "secretsmanager", Name: "media/db"},
		Database:      config.DatabaseConfig{Driver: "postgres", Roles: []string{"writer", "reader"}},
		Refresh:       config.RefreshConfig{Enabled: &disabled},
	}

	core, err := NewFromConfig(context.Background(), def, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(core.Close)

	assert.True(t, metrics.IsMetricsRegistered())
	assert.Equal(t, []topology.Role{topology.Writer, topology.Reader}, core.Pools().Roles())
}

func TestStart_RecordsMetrics(t *testing.T) {
	t.Parallel()
	metrics.InitMetrics()
	fetches := metrics.GetConfigRefreshTotal().WithLabelValues("success")
	rebuilds := metrics.GetPoolRebuildTotal().WithLabelValues("writer", "success")
	fetchesBefore := testutil.ToFloat64(fetches)
	rebuildsBefore := testutil.ToFloat64(rebuilds)

	e := newEnv(t, payload("pw1", "media"))
	require.NoError(t, e.core.Start(context.Background()))

	assert.GreaterOrEqual(t, testutil.ToFloat64(fetches), fetchesBefore+1)
	assert.GreaterOrEqual(t, testutil.ToFloat64(rebuilds), rebuildsBefore+1)
}
