package backup

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/shoptrack/agent/internal/database"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	created map[string]time.Time
	putErr  error
	getErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{
		objects: make(map[string][]byte),
		created: make(map[string]time.Time),
	}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	m.created[*input.Key] = time.Now().UTC()
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(data)),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	delete(m.created, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for key, data := range m.objects {
		if input.Prefix != nil && !strings.HasPrefix(key, *input.Prefix) {
			continue
		}
		created := m.created[key]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(data))),
			LastModified: aws.Time(created),
		})
	}
	return out, nil
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func setupManager(t *testing.T) (*Manager, *mockS3Client, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "cache.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := NewManager(Config{
		S3:     S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
		DBPath: dbPath,
	}, db, testLogger(), nil)

	mock := newMockS3()
	m.client = mock

	return m, mock, dbPath
}

func TestManagerStateLifecycle(t *testing.T) {
	m := NewManager(Config{}, nil, testLogger(), nil)
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}

	m2 := NewManager(Config{
		S3: S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
	}, nil, testLogger(), nil)
	if m2.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m2.Status().State, StateIdle)
	}
}

func TestRunNowUploadsEncryptedSnapshot(t *testing.T) {
	m, mock, _ := setupManager(t)

	key, err := m.RunNow(context.Background(), "hunter2")
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}
	if !strings.HasPrefix(key, "snapshots/backup-") {
		t.Errorf("key = %q, want snapshots/backup- prefix", key)
	}

	mock.mu.Lock()
	encrypted, ok := mock.objects[key]
	mock.mu.Unlock()
	if !ok {
		t.Fatal("snapshot not uploaded")
	}

	plaintext, err := Decrypt(encrypted, "hunter2")
	if err != nil {
		t.Fatalf("decrypt uploaded snapshot: %v", err)
	}
	if !bytes.HasPrefix(plaintext, []byte("SQLite format 3")) {
		t.Error("decrypted snapshot is not a SQLite database")
	}

	status := m.Status()
	if status.State != StateIdle {
		t.Errorf("state after backup = %q, want %q", status.State, StateIdle)
	}
	if status.LastBackup == nil {
		t.Error("LastBackup should be set after a successful backup")
	}
	if status.LastKey != key {
		t.Errorf("LastKey = %q, want %q", status.LastKey, key)
	}
}

func TestRunNowRequiresPassphrase(t *testing.T) {
	m, _, _ := setupManager(t)

	if _, err := m.RunNow(context.Background(), ""); err == nil {
		t.Error("backup without passphrase should fail")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	m, mock, dbPath := setupManager(t)

	key, err := m.RunNow(context.Background(), "hunter2")
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	// Restore into a fresh location
	restorePath := filepath.Join(t.TempDir(), "restored.db")
	m2 := NewManager(Config{
		S3:     S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
		DBPath: restorePath,
	}, nil, testLogger(), nil)
	m2.client = mock

	if err := m2.Restore(context.Background(), key, "hunter2"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	original, err := os.ReadFile(dbPath)
	if err != nil {
		t.Fatalf("read original: %v", err)
	}
	restored, err := os.ReadFile(restorePath)
	if err != nil {
		t.Fatalf("read restored: %v", err)
	}
	if !bytes.Equal(original, restored) {
		t.Error("restored database should match the original snapshot")
	}
}

func TestRestoreWrongPassphrase(t *testing.T) {
	m, mock, _ := setupManager(t)

	key, err := m.RunNow(context.Background(), "hunter2")
	if err != nil {
		t.Fatalf("run backup: %v", err)
	}

	m2 := NewManager(Config{
		S3:     S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret"},
		DBPath: filepath.Join(t.TempDir(), "restored.db"),
	}, nil, testLogger(), nil)
	m2.client = mock

	if err := m2.Restore(context.Background(), key, "wrong"); err == nil {
		t.Error("restore with wrong passphrase should fail")
	}
}

func TestListNewestFirst(t *testing.T) {
	m, mock, _ := setupManager(t)

	mock.mu.Lock()
	mock.objects["snapshots/backup-old.db.enc"] = []byte("old")
	mock.created["snapshots/backup-old.db.enc"] = time.Now().UTC().AddDate(0, 0, -10)
	mock.objects["snapshots/backup-new.db.enc"] = []byte("new")
	mock.created["snapshots/backup-new.db.enc"] = time.Now().UTC()
	mock.mu.Unlock()

	snapshots, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snapshots))
	}
	if snapshots[0].Key != "snapshots/backup-new.db.enc" {
		t.Errorf("first snapshot = %q, want the newest", snapshots[0].Key)
	}
}

func TestCleanupDeletesExpired(t *testing.T) {
	m, mock, _ := setupManager(t)

	mock.mu.Lock()
	mock.objects["snapshots/backup-expired.db.enc"] = []byte("expired")
	mock.created["snapshots/backup-expired.db.enc"] = time.Now().UTC().AddDate(0, 0, -60)
	mock.objects["snapshots/backup-recent.db.enc"] = []byte("recent")
	mock.created["snapshots/backup-recent.db.enc"] = time.Now().UTC()
	mock.mu.Unlock()

	if err := m.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if _, ok := mock.objects["snapshots/backup-expired.db.enc"]; ok {
		t.Error("expired snapshot should be deleted")
	}
	if _, ok := mock.objects["snapshots/backup-recent.db.enc"]; !ok {
		t.Error("recent snapshot should survive cleanup")
	}
}
