package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dnsscanner/internal/config"
	"dnsscanner/internal/database"
	"dnsscanner/internal/domain"
	"dnsscanner/internal/ipv4"
	"dnsscanner/internal/supervisor"
	"dnsscanner/internal/support"
)

type testEnv struct {
	*environment
	dbPath string
}

func newTestEnvironment(t *testing.T, settings string) testEnv {
	t.Helper()
	t.Setenv("DB_MAX_OPEN_CONNS", "1")

	dir := t.TempDir()
	settingsPath := filepath.Join(dir, "settings.json")
	if settings != "" {
		if err := os.WriteFile(settingsPath, []byte(settings), 0o644); err != nil {
			t.Fatalf("write settings: %v", err)
		}
	}

	dbPath := filepath.Join(dir, "records.db")
	return testEnv{
		environment: &environment{
			settingsPath: settingsPath,
			openDatabase: func() (*gorm.DB, error) {
				return openTestDB(dbPath)
			},
			connectRedis: func(context.Context) (*redis.Client, error) {
				return nil, support.ErrRedisDisabled
			},
		},
		dbPath: dbPath,
	}
}

func openTestDB(path string) (*gorm.DB, error) {
	return database.SetupDB(
		database.WithDialector(sqlite.Open(path+"?_busy_timeout=5000")),
		database.WithLogger(logger.Default.LogMode(logger.Silent)),
		database.WithMigrations(&domain.ScanRecord{}),
	)
}

func (e testEnv) store(t *testing.T) *database.Store {
	t.Helper()
	db, err := openTestDB(e.dbPath)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close(db)
	})
	return database.NewStore(db)
}

func (e testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(e.environment)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--settings", e.settingsPath, "--loglevel", "error"))
	err := root.ExecuteContext(context.Background())
	log.SetLevel(log.InfoLevel)
	return out.String(), err
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]log.Level{
		"debug":  log.DebugLevel,
		" INFO ": log.InfoLevel,
		"warn":   log.WarnLevel,
		"error":  log.ErrorLevel,
	}
	for raw, want := range cases {
		got, err := parseLogLevel(raw)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parseLogLevel(%q) = %s, want %s", raw, got, want)
		}
	}

	if _, err := parseLogLevel("chatty"); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestDescribeFailure(t *testing.T) {
	if describeFailure(nil) != nil {
		t.Fatal("describeFailure(nil) returned an error")
	}

	t.Run("configuration errors get usage hint", func(t *testing.T) {
		_, cause := supervisor.ParseRequest("manual", "1.2.3", "1.2.3.4", false)
		err := describeFailure(cause)
		if !errors.Is(err, ipv4.ErrMalformedAddress) {
			t.Fatalf("describeFailure lost the cause: %v", err)
		}
		msg := err.Error()
		if !strings.HasPrefix(msg, "invalid arguments: ") || !strings.HasSuffix(msg, `Run "dnsscanner scan --help"`) {
			t.Fatalf("describeFailure message = %q", msg)
		}
	})

	t.Run("invalid settings get usage hint", func(t *testing.T) {
		err := describeFailure(fmt.Errorf("%w: scanner.concurrency must be positive", config.ErrInvalidSettings))
		if !strings.HasPrefix(err.Error(), "invalid arguments: ") {
			t.Fatalf("describeFailure message = %q", err.Error())
		}
	})

	t.Run("runtime errors pass through", func(t *testing.T) {
		cause := errors.New("database is down")
		if err := describeFailure(cause); err != cause {
			t.Fatalf("describeFailure returned %v, want the original error", err)
		}
	})
}

func TestScanCommandPersistsManualSpan(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	serverURL, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}

	settings := fmt.Sprintf(`{
		"scanner": {"concurrency": 2, "probe_timeout": 2000, "resolve_timeout": 200, "port": %s},
		"supervisor": {"checkpoint_every": 1}
	}`, serverURL.Port())
	env := newTestEnvironment(t, settings)

	if _, err := env.execute(t, "scan", "--mode", "manual", "--from", "127.0.0.1", "--to", "127.0.0.1"); err != nil {
		t.Fatalf("scan returned error: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("server received %d probes, want 1", got)
	}

	record, err := env.store(t).FindRecord(context.Background(), ipv4.MustParse("127.0.0.1"))
	if err != nil {
		t.Fatalf("FindRecord returned error: %v", err)
	}
	if record == nil {
		t.Fatal("scan did not persist a record for 127.0.0.1")
	}
	if record.HTTPStatus == nil || *record.HTTPStatus != http.StatusNoContent {
		t.Fatalf("record HTTPStatus = %v, want 204", record.HTTPStatus)
	}
	if record.ObservedAt.IsZero() {
		t.Fatal("record ObservedAt was not set")
	}
}

func TestScanCommandRejectsBadArguments(t *testing.T) {
	env := newTestEnvironment(t, "")
	env.openDatabase = func() (*gorm.DB, error) {
		t.Fatal("database opened for invalid arguments")
		return nil, nil
	}

	_, err := env.execute(t, "scan", "--mode", "manual", "--from", "10.0.0.9", "--to", "10.0.0.1")
	if !supervisor.IsFatal(err) {
		t.Fatalf("scan error = %v, want fatal configuration error", err)
	}
	if msg := describeFailure(err).Error(); !strings.HasPrefix(msg, "invalid arguments: ") {
		t.Fatalf("describeFailure message = %q", msg)
	}
}

func TestCountCommand(t *testing.T) {
	env := newTestEnvironment(t, "")
	store := env.store(t)
	ctx := context.Background()

	status := http.StatusOK
	for _, raw := range []string{"10.0.0.1", "10.0.0.2", "10.0.1.1"} {
		record := domain.NewScanRecord(ipv4.MustParse(raw), time.Now())
		if raw == "10.0.0.2" {
			record.HTTPStatus = &status
		}
		if err := store.ReplaceRecord(ctx, record); err != nil {
			t.Fatalf("ReplaceRecord returned error: %v", err)
		}
	}

	t.Run("all records", func(t *testing.T) {
		out, err := env.execute(t, "count")
		if err != nil {
			t.Fatalf("count returned error: %v", err)
		}
		if out != "records: 3\nreachable: 1\n" {
			t.Fatalf("count printed %q", out)
		}
	})

	t.Run("records inside span", func(t *testing.T) {
		out, err := env.execute(t, "count", "--from", "10.0.1.0", "--to", "10.0.1.255")
		if err != nil {
			t.Fatalf("count returned error: %v", err)
		}
		if out != "records: 1\nreachable: 0\n" {
			t.Fatalf("count printed %q", out)
		}
	})

	t.Run("malformed span", func(t *testing.T) {
		if _, err := env.execute(t, "count", "--from", "10.0.1", "--to", "10.0.1.255"); !supervisor.IsFatal(err) {
			t.Fatalf("count error = %v, want fatal configuration error", err)
		}
	})
}

func TestRangesCommandOrdersNeverScannedFirst(t *testing.T) {
	env := newTestEnvironment(t, `{"scheduler": {"max_first_octet": 2, "max_second_octet": 2}}`)
	store := env.store(t)

	observed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := store.ReplaceRecord(context.Background(), domain.NewScanRecord(ipv4.MustParse("0.0.4.4"), observed)); err != nil {
		t.Fatalf("ReplaceRecord returned error: %v", err)
	}

	out, err := env.execute(t, "ranges", "--limit", "0")
	if err != nil {
		t.Fatalf("ranges returned error: %v", err)
	}

	want := strings.Join([]string{
		"0.1.*.*\tnever",
		"1.0.*.*\tnever",
		"1.1.*.*\tnever",
		"0.0.*.*\t2024-05-01T12:00:00Z",
	}, "\n") + "\n"
	if out != want {
		t.Fatalf("ranges printed:\n%s\nwant:\n%s", out, want)
	}
}

func TestNewExecutorFailsOnMissingGeoLiteDatabase(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("Default returned error: %v", err)
	}
	cfg.GeoLite.CountryDB = filepath.Join(t.TempDir(), "missing.mmdb")

	executor, cleanup, err := newExecutor(cfg)
	if err == nil {
		t.Fatal("expected error for missing GeoLite database")
	}
	if executor != nil || cleanup != nil {
		t.Fatal("newExecutor returned collaborators alongside an error")
	}
}

func TestNewExecutorAppliesSettings(t *testing.T) {
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("Default returned error: %v", err)
	}
	cfg.Scanner.Concurrency = 7

	executor, cleanup, err := newExecutor(cfg)
	if err != nil {
		t.Fatalf("newExecutor returned error: %v", err)
	}
	defer cleanup()

	if got := executor.Concurrency(); got != 7 {
		t.Fatalf("Concurrency returned %d, want 7", got)
	}
}
