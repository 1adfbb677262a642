package registry

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"

	"github.com/querychat/querychat/internal/dialect"
	"github.com/querychat/querychat/internal/settings"
)

func TestKeyNormalization(t *testing.T) {
	key := NewKey(" DB.Local ", " 1433", " AppDB ")
	if key.String() != "db.local:1433/AppDB" {
		t.Fatalf("String() = %q", key.String())
	}
	if key != NewKey("db.local", "1433", "AppDB") {
		t.Fatalf("normalized keys differ: %#v", key)
	}
}

func TestResolveOpensOncePerKey(t *testing.T) {
	opener := newMockOpener(t)
	reg := newTestRegistry(t, newSource(), opener, 0)

	first, err := reg.Resolve(context.Background(), "AppDB")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := reg.Resolve(context.Background(), " AppDB ")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if first != second {
		t.Fatal("expected the same handle instance for the same key")
	}
	if opener.count() != 1 {
		t.Fatalf("opens = %d, want 1", opener.count())
	}
	if first.Key.String() != "db.local:1433/AppDB" {
		t.Fatalf("Key = %q", first.Key.String())
	}

	other, err := reg.Resolve(context.Background(), "Reporting")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if other == first {
		t.Fatal("different databases must not share a handle")
	}
	if opener.count() != 2 {
		t.Fatalf("opens = %d, want 2", opener.count())
	}
	if reg.Len() != 2 {
		t.Fatalf("Len() = %d", reg.Len())
	}
}

func TestResolveConcurrentFirstAccessOpensOnce(t *testing.T) {
	opener := newMockOpener(t)
	opener.delay = 20 * time.Millisecond
	reg := newTestRegistry(t, newSource(), opener, 0)

	const callers = 32
	handles := make([]*Handle, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			handles[i], errs[i] = reg.Resolve(context.Background(), "AppDB")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := range handles {
		if errs[i] != nil {
			t.Fatalf("Resolve() error = %v", errs[i])
		}
		if handles[i] != handles[0] {
			t.Fatal("concurrent callers received different handles")
		}
	}
	if opener.count() != 1 {
		t.Fatalf("opens = %d, want 1", opener.count())
	}
}

func TestResolveRequiresConfiguration(t *testing.T) {
	source := &fakeSource{err: settings.ErrConfigurationMissing}
	opener := newMockOpener(t)
	reg := newTestRegistry(t, source, opener, 0)

	_, err := reg.Resolve(context.Background(), "AppDB")
	if !errors.Is(err, settings.ErrConfigurationMissing) {
		t.Fatalf("Resolve() error = %v, want ErrConfigurationMissing", err)
	}
	if opener.count() != 0 {
		t.Fatalf("opens = %d", opener.count())
	}
}

func TestResolveRequiresDatabase(t *testing.T) {
	reg := newTestRegistry(t, newSource(), newMockOpener(t), 0)
	if _, err := reg.Resolve(context.Background(), "  "); !errors.Is(err, ErrDatabaseRequired) {
		t.Fatalf("Resolve() error = %v, want ErrDatabaseRequired", err)
	}
}

func TestResolveSurfacesConnectionFailureWithoutCaching(t *testing.T) {
	opener := newMockOpener(t)
	opener.err = errors.New("login failed for user 'sa'")
	reg := newTestRegistry(t, newSource(), opener, 0)

	_, err := reg.Resolve(context.Background(), "AppDB")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Resolve() error = %v, want ErrConnectionFailed", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Resolve() error type = %T", err)
	}
	if connErr.Key.Database != "AppDB" {
		t.Fatalf("Key = %#v", connErr.Key)
	}
	if !errors.Is(err, opener.err) {
		t.Fatalf("cause not preserved: %v", err)
	}
	if opener.count() != 1 {
		t.Fatalf("opens = %d, want exactly one attempt", opener.count())
	}
	if reg.Len() != 0 {
		t.Fatalf("Len() = %d", reg.Len())
	}

	_, _ = reg.Resolve(context.Background(), "AppDB")
	if opener.count() != 2 {
		t.Fatalf("failed opens must not be cached; opens = %d", opener.count())
	}
}

func TestResolvePingFailureClosesHandle(t *testing.T) {
	var mock sqlmock.Sqlmock
	open := func(settings.Database, string) (*sql.DB, error) {
		db, m, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			return nil, err
		}
		m.ExpectPing().WillReturnError(errors.New("database \"Missing\" does not exist"))
		m.ExpectClose()
		mock = m
		return db, nil
	}
	reg, err := New(Config{
		Logger:   discardLogger(),
		Settings: newSource(),
		Dialect:  dialect.SQLServer{},
		Open:     open,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer reg.Close()

	_, err = reg.Resolve(context.Background(), "Missing")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Resolve() error = %v, want ErrConnectionFailed", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveReplacesHandleWhenCredentialsChange(t *testing.T) {
	source := newSource()
	opener := newMockOpener(t)
	opener.expectClose = true
	reg := newTestRegistry(t, source, opener, 0)

	first, err := reg.Resolve(context.Background(), "AppDB")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	first.Release()

	cfg := source.cfg
	cfg.Database.Password = "rotated"
	source.set(cfg)

	second, err := reg.Resolve(context.Background(), "AppDB")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if first == second {
		t.Fatal("expected a new handle after credentials changed")
	}
	if opener.lastCreds().Password != "rotated" {
		t.Fatalf("open used password %q", opener.lastCreds().Password)
	}
	waitFor(t, func() bool { return opener.mocks[0].ExpectationsWereMet() == nil })
	waitFor(t, func() bool { return reg.Len() == 1 })
}

func TestInvalidateClosesMatchingHandles(t *testing.T) {
	opener := newMockOpener(t)
	opener.expectClose = true
	reg := newTestRegistry(t, newSource(), opener, 0)
	ctx := context.Background()

	first, _ := reg.Resolve(ctx, "AppDB")
	first.Release()
	if _, err := reg.Resolve(ctx, "Reporting"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if n := reg.Invalidate("AppDB"); n != 1 {
		t.Fatalf("Invalidate() = %d, want 1", n)
	}
	if n := reg.Invalidate("Unknown"); n != 0 {
		t.Fatalf("Invalidate() = %d, want 0", n)
	}
	waitFor(t, func() bool { return opener.mocks[0].ExpectationsWereMet() == nil })

	again, err := reg.Resolve(ctx, "AppDB")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if again == first {
		t.Fatal("expected a fresh handle after invalidation")
	}
	if opener.count() != 3 {
		t.Fatalf("opens = %d", opener.count())
	}
}

func TestPurgeClosesEverything(t *testing.T) {
	opener := newMockOpener(t)
	opener.expectClose = true
	reg := newTestRegistry(t, newSource(), opener, 0)
	ctx := context.Background()
	for _, name := range []string{"AppDB", "Reporting"} {
		h, err := reg.Resolve(ctx, name)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", name, err)
		}
		h.Release()
	}

	if n := reg.Purge(); n != 2 {
		t.Fatalf("Purge() = %d", n)
	}
	waitFor(t, func() bool { return reg.Len() == 0 })
	for i, mock := range opener.mocks {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("handle %d not closed: %v", i, err)
		}
	}
}

func TestPurgeKeepsLeasedHandleOpenUntilRelease(t *testing.T) {
	opener := newMockOpener(t)
	opener.expectClose = true
	reg := newTestRegistry(t, newSource(), opener, 0)
	ctx := context.Background()

	leased, err := reg.Resolve(ctx, "AppDB")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	mock := opener.mocks[0]
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	if n := reg.Purge(); n != 1 {
		t.Fatalf("Purge() = %d, want 1", n)
	}
	waitFor(t, func() bool { return reg.Len() == 0 })

	var n int
	if err := leased.DB.QueryRowContext(ctx, "SELECT 1").Scan(&n); err != nil {
		t.Fatalf("query on leased handle after purge error = %v", err)
	}
	if n != 1 {
		t.Fatalf("n = %d", n)
	}

	fresh, err := reg.Resolve(ctx, "AppDB")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if fresh == leased {
		t.Fatal("expected a fresh handle after purge")
	}

	leased.Release()
	waitFor(t, func() bool { return mock.ExpectationsWereMet() == nil })
	leased.Release()
	fresh.Release()
}

func TestIdleHandlesExpire(t *testing.T) {
	opener := newMockOpener(t)
	opener.expectClose = true
	reg := newTestRegistry(t, newSource(), opener, 50*time.Millisecond)

	first, err := reg.Resolve(context.Background(), "AppDB")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	first.Release()
	time.Sleep(150 * time.Millisecond)

	second, err := reg.Resolve(context.Background(), "AppDB")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if first == second {
		t.Fatal("expected expired handle to be replaced")
	}
	waitFor(t, func() bool { return opener.mocks[0].ExpectationsWereMet() == nil })
}

func TestHandlesReportsCreationTime(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	opener := newMockOpener(t)
	reg, err := New(Config{
		Logger:   discardLogger(),
		Settings: newSource(),
		Dialect:  dialect.SQLServer{},
		Open:     opener.open,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer reg.Close()

	h, err := reg.Resolve(context.Background(), "AppDB")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !h.CreatedAt.Equal(clock.Now()) {
		t.Fatalf("CreatedAt = %v", h.CreatedAt)
	}
	infos := reg.Handles()
	if len(infos) != 1 || infos[0].Name != "db.local:1433/AppDB" || infos[0].Dialect != "sqlserver" {
		t.Fatalf("Handles() = %#v", infos)
	}
	if !infos[0].ExpiresAt.IsZero() {
		t.Fatalf("ExpiresAt = %v, want zero without idle ttl", infos[0].ExpiresAt)
	}
}

func TestClosedRegistryRejectsResolve(t *testing.T) {
	opener := newMockOpener(t)
	reg := newTestRegistry(t, newSource(), opener, 0)
	reg.Close()
	reg.Close()
	if _, err := reg.Resolve(context.Background(), "AppDB"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Resolve() error = %v, want ErrClosed", err)
	}
	if opener.count() != 0 {
		t.Fatalf("opens = %d", opener.count())
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{Settings: newSource(), Dialect: dialect.SQLServer{}}); err == nil {
		t.Fatal("expected error for missing logger")
	}
	if _, err := New(Config{Logger: discardLogger(), Dialect: dialect.SQLServer{}}); err == nil {
		t.Fatal("expected error for missing settings")
	}
	if _, err := New(Config{Logger: discardLogger(), Settings: newSource()}); err == nil {
		t.Fatal("expected error for missing dialect")
	}
}

func newTestRegistry(t *testing.T, source ConfigSource, opener *mockOpener, ttl time.Duration) *Registry {
	t.Helper()
	reg, err := New(Config{
		Logger:   discardLogger(),
		Settings: source,
		Dialect:  dialect.SQLServer{},
		Open:     opener.open,
		IdleTTL:  ttl,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(reg.Close)
	return reg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type fakeSource struct {
	mu  sync.Mutex
	cfg settings.Configuration
	err error
}

func newSource() *fakeSource {
	return &fakeSource{cfg: settings.Configuration{
		Database: settings.Database{Host: "DB.local", Port: "1433", User: "sa", Password: "secret"},
	}}
}

func (f *fakeSource) set(cfg settings.Configuration) {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
}

func (f *fakeSource) Require() (settings.Configuration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return settings.Configuration{}, f.err
	}
	return f.cfg, nil
}

type mockOpener struct {
	t           *testing.T
	mu          sync.Mutex
	calls       int
	creds       []settings.Database
	mocks       []sqlmock.Sqlmock
	delay       time.Duration
	err         error
	expectClose bool
}

func newMockOpener(t *testing.T) *mockOpener {
	return &mockOpener{t: t}
}

func (o *mockOpener) open(creds settings.Database, _ string) (*sql.DB, error) {
	if o.delay > 0 {
		time.Sleep(o.delay)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.creds = append(o.creds, creds)
	if o.err != nil {
		return nil, o.err
	}
	db, mock, err := sqlmock.New()
	if err != nil {
		o.t.Errorf("sqlmock.New() error = %v", err)
		return nil, err
	}
	if o.expectClose {
		mock.ExpectClose()
	}
	o.mocks = append(o.mocks, mock)
	return db, nil
}

func (o *mockOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func (o *mockOpener) lastCreds() settings.Database {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.creds[len(o.creds)-1]
}
