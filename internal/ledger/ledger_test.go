package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/medical-appointment-saga/internal/country"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	mu      sync.Mutex
	calls   []execCall
	tag     string
	execErr error
	pingErr error
	closed  bool
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag(f.tag), nil
}

func (f *fakeDB) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeDB) Close()                         { f.closed = true }

type countingSource struct {
	calls atomic.Int32
	creds Credentials
}

func (c *countingSource) Credentials(context.Context) (Credentials, error) {
	c.calls.Add(1)
	return c.creds, nil
}

func testDatabases() map[country.Code]string {
	return map[country.Code]string{country.PE: "appointments_pe", country.CL: "appointments_cl"}
}

func TestRegistryCreatesOnePoolPerCountry(t *testing.T) {
	source := &countingSource{creds: Credentials{Host: "db", Port: 5432, Username: "u", Password: "p"}}
	var dials atomic.Int32
	var dsns sync.Map
	release := make(chan struct{})

	reg := NewRegistry(RegistryOptions{
		Databases:   testDatabases(),
		Credentials: source,
		SSLMode:     "disable",
		Dial: func(ctx context.Context, dsn string) (DB, error) {
			dials.Add(1)
			dsns.Store(dsn, true)
			<-release
			return &fakeDB{}, nil
		},
	})

	var wg sync.WaitGroup
	results := make([]DB, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := reg.Pool(context.Background(), country.PE)
			assert.NoError(t, err)
			results[i] = p
		}(i)
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
	assert.Equal(t, int32(1), source.calls.Load())
	for _, p := range results {
		assert.Same(t, results[0], p)
	}
	_, ok := dsns.Load("postgres://u:p@db:5432/appointments_pe?sslmode=disable")
	assert.True(t, ok)

	_, err := reg.Pool(context.Background(), country.CL)
	require.NoError(t, err)
	assert.Equal(t, int32(2), dials.Load())
}

func TestRegistryDoesNotCacheFailedCreation(t *testing.T) {
	var dials int
	reg := NewRegistry(RegistryOptions{
		Databases:   testDatabases(),
		Credentials: StaticCredentials{Host: "db", Port: 5432},
		Dial: func(ctx context.Context, dsn string) (DB, error) {
			dials++
			if dials == 1 {
				return nil, errors.New("connection refused")
			}
			return &fakeDB{}, nil
		},
	})

	_, err := reg.Pool(context.Background(), country.CL)
	require.Error(t, err)

	p, err := reg.Pool(context.Background(), country.CL)
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, 2, dials)
}

func TestRegistryClose(t *testing.T) {
	pool := &fakeDB{}
	reg := NewRegistry(RegistryOptions{
		Databases:   testDatabases(),
		Credentials: StaticCredentials{},
		Dial:        func(ctx context.Context, dsn string) (DB, error) { return pool, nil },
	})

	_, err := reg.Pool(context.Background(), country.PE)
	require.NoError(t, err)

	reg.Close()
	assert.True(t, pool.closed)

	_, err = reg.Pool(context.Background(), country.PE)
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestRegistryMissingDatabase(t *testing.T) {
	reg := NewRegistry(RegistryOptions{
		Databases:   map[country.Code]string{country.PE: "appointments_pe"},
		Credentials: StaticCredentials{},
		Dial:        func(ctx context.Context, dsn string) (DB, error) { return &fakeDB{}, nil },
	})
	_, err := reg.Pool(context.Background(), country.CL)
	assert.Error(t, err)
}

// staticPools serves a fixed DB per country.
type staticPools map[country.Code]*fakeDB

func (s staticPools) Pool(ctx context.Context, code country.Code) (DB, error) {
	p, ok := s[code]
	if !ok {
		return nil, errors.New("no pool")
	}
	return p, nil
}

func TestStoreInsertTargetsCountryTable(t *testing.T) {
	pe, cl := &fakeDB{tag: "INSERT 0 1"}, &fakeDB{tag: "INSERT 0 1"}
	store := NewStore(staticPools{country.PE: pe, country.CL: cl}, nil)
	created := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	slot := json.RawMessage(`{"scheduleId":100,"centerId":4,"specialtyId":3,"medicId":7,"date":"2026-11-02T15:30:00Z"}`)

	err := store.Insert(context.Background(), Entry{
		AppointmentID: "a1",
		InsuredID:     "00001",
		ScheduleSlot:  slot,
		CountryCode:   country.CL,
		Status:        "pending",
		CreatedAt:     created,
	})
	require.NoError(t, err)

	assert.Empty(t, pe.calls)
	require.Len(t, cl.calls, 1)
	call := cl.calls[0]
	assert.True(t, strings.HasPrefix(call.sql, `INSERT INTO "appointments_cl"`))
	assert.Equal(t, []any{"a1", "00001", slot, "CL", "pending", created}, call.args)
}

func TestStoreInsertRejectsUnknownCountry(t *testing.T) {
	store := NewStore(staticPools{}, nil)
	err := store.Insert(context.Background(), Entry{AppointmentID: "a1", CountryCode: "XX"})
	assert.ErrorIs(t, err, country.ErrUnsupported)
}

func TestStoreMarkCompleted(t *testing.T) {
	pe := &fakeDB{tag: "UPDATE 2"}
	store := NewStore(staticPools{country.PE: pe}, nil)
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	n, err := store.MarkCompleted(context.Background(), country.PE, "a1", at)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, pe.calls, 1)
	assert.Contains(t, pe.calls[0].sql, `UPDATE "appointments_pe" SET status = $1`)
	assert.Equal(t, []any{StatusCompleted, at, "a1"}, pe.calls[0].args)

	pe.tag = "UPDATE 0"
	n, err = store.MarkCompleted(context.Background(), country.PE, "missing", at)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreMarkCompletedPropagatesErrors(t *testing.T) {
	pe := &fakeDB{execErr: errors.New("deadlock detected")}
	store := NewStore(staticPools{country.PE: pe}, nil)

	_, err := store.MarkCompleted(context.Background(), country.PE, "a1", time.Now())
	assert.ErrorContains(t, err, "deadlock detected")
}

func TestStorePing(t *testing.T) {
	pe, cl := &fakeDB{}, &fakeDB{pingErr: errors.New("down")}
	store := NewStore(staticPools{country.PE: pe, country.CL: cl}, nil)

	assert.NoError(t, store.Ping(context.Background(), country.PE))
	assert.Error(t, store.Ping(context.Background()))
}

func TestSecretFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"username":"svc","password":"s3cret"}`), 0o600))

	src := SecretFile{Path: path, Defaults: Credentials{Host: "db", Port: 5432, Username: "postgres"}}
	creds, err := src.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Credentials{Host: "db", Port: 5432, Username: "svc", Password: "s3cret"}, creds)

	creds, err = SecretFile{Defaults: Credentials{Host: "h"}}.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "h", creds.Host)

	_, err = SecretFile{Path: filepath.Join(t.TempDir(), "missing")}.Credentials(context.Background())
	assert.Error(t, err)
}

func TestCredentialsDSNEscapesPassword(t *testing.T) {
	dsn := Credentials{Host: "db", Port: 5432, Username: "u", Password: "p@ss/w"}.DSN("appointments_pe", "")
	assert.Equal(t, "postgres://u:p%40ss%2Fw@db:5432/appointments_pe", dsn)
}

func TestMigrationsExistForEveryCountry(t *testing.T) {
	for _, code := range country.All() {
		sub, err := Migrations(code)
		require.NoError(t, err)

		ups, err := fs.Glob(sub, "*.up.sql")
		require.NoError(t, err)
		downs, err := fs.Glob(sub, "*.down.sql")
		require.NoError(t, err)
		require.NotEmpty(t, ups, code)
		assert.Len(t, downs, len(ups))

		body, err := fs.ReadFile(sub, ups[0])
		require.NoError(t, err)
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+code.Route().Table)
	}

	_, err := Migrations("XX")
	assert.Error(t, err)
}
