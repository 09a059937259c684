package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/darkace1998/video-pipeline/internal/auth"
)

// fakeMaster answers the admin API with canned JSON and records requests
func fakeMaster(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.RequestURI())
		if r.Header.Get("Authorization") != "Bearer tok" && !strings.HasSuffix(r.URL.Path, "z") {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid token"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/healthz":
			_, _ = w.Write([]byte(`{"status":"alive"}`))
		case "/readyz":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"not_ready"}`))
		case "/api/admin/stats":
			_, _ = w.Write([]byte(`{"jobs":{"pending":2,"failed":1},"enabled_encoders":["w1","w2"]}`))
		case "/api/admin/jobs":
			_, _ = w.Write([]byte(`{"count":1,"jobs":[{"owner":"alice","permlink":"ab12cd34","status":"failed",
				"assignedWorker":null,"attemptCount":3,"createdAt":"2026-01-02T03:04:05Z","lastError":"max attempts exceeded"}]}`))
		case "/api/admin/jobs/retry":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["permlink"] == "missing0" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"encoding job not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"requeued"}`))
		case "/api/admin/encoders":
			_, _ = w.Write([]byte(`{"encoders":[{"name":"w1","url":"http://w1","enabled":true}]}`))
		case "/api/admin/encoders/w1/disable":
			_, _ = w.Write([]byte(`{"name":"w1","enabled":false}`))
		case "/api/admin/apikeys":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"key":"k123","app_name":"web","owner":"alice","active":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestStats(t *testing.T) {
	srv, _ := fakeMaster(t)
	var buf bytes.Buffer

	if err := Stats([]string{"--master-url", srv.URL, "--token", "tok"}, &buf); err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"failed", "pending", "total   | 3", "Enabled encoders: w1, w2"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestStatsUnauthorized(t *testing.T) {
	srv, _ := fakeMaster(t)
	err := Stats([]string{"--master-url", srv.URL, "--token", "bad"}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "401: invalid token") {
		t.Errorf("Expected 401 error, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	srv, _ := fakeMaster(t)
	var buf bytes.Buffer

	if err := Status([]string{"--master-url", srv.URL, "--format", "json"}, &buf); err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Invalid JSON output: %v", err)
	}
	if got["healthz"] != "alive" || got["readyz"] != "not_ready" {
		t.Errorf("Unexpected endpoints %v", got)
	}
}

func TestJobs(t *testing.T) {
	srv, calls := fakeMaster(t)
	var buf bytes.Buffer

	err := Jobs([]string{"--master-url", srv.URL, "--token", "tok", "--status", "failed", "--limit", "5", "--format", "csv"}, &buf)
	if err != nil {
		t.Fatalf("Jobs failed: %v", err)
	}
	if (*calls)[0] != "GET /api/admin/jobs?limit=5&status=failed" {
		t.Errorf("Unexpected request %q", (*calls)[0])
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header and one row, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "alice/ab12cd34,failed,-,3,") {
		t.Errorf("Unexpected row %q", lines[1])
	}
}

func TestRetry(t *testing.T) {
	srv, _ := fakeMaster(t)

	if err := Retry([]string{"--master-url", srv.URL, "--token", "tok"}, &bytes.Buffer{}); err == nil {
		t.Error("Expected error without --owner/--permlink")
	}

	var buf bytes.Buffer
	err := Retry([]string{"--master-url", srv.URL, "--token", "tok", "--owner", "alice", "--permlink", "ab12cd34"}, &buf)
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if !strings.Contains(buf.String(), "requeued") {
		t.Errorf("Unexpected output %q", buf.String())
	}

	err = Retry([]string{"--master-url", srv.URL, "--token", "tok", "--owner", "alice", "--permlink", "missing0"}, &buf)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("Expected 404 error, got %v", err)
	}
}

func TestEncoders(t *testing.T) {
	srv, calls := fakeMaster(t)
	var buf bytes.Buffer

	if err := Encoders([]string{"--master-url", srv.URL, "--token", "tok"}, &buf); err != nil {
		t.Fatalf("Encoders list failed: %v", err)
	}
	if !strings.Contains(buf.String(), "http://w1") {
		t.Errorf("Expected encoder URL in output %q", buf.String())
	}

	buf.Reset()
	if err := Encoders([]string{"--master-url", srv.URL, "--token", "tok", "--disable", "w1"}, &buf); err != nil {
		t.Fatalf("Encoders disable failed: %v", err)
	}
	if (*calls)[1] != "POST /api/admin/encoders/w1/disable" {
		t.Errorf("Unexpected request %q", (*calls)[1])
	}

	err := Encoders([]string{"--enable", "a", "--disable", "b"}, &buf)
	if err == nil {
		t.Error("Expected error for --enable with --disable")
	}
}

func TestAPIKey(t *testing.T) {
	srv, _ := fakeMaster(t)
	var buf bytes.Buffer

	if err := APIKey([]string{"--master-url", srv.URL, "--token", "tok", "--app", "web", "--owner", "alice"}, &buf); err != nil {
		t.Fatalf("APIKey failed: %v", err)
	}
	if !strings.Contains(buf.String(), "k123") {
		t.Errorf("Expected key in output %q", buf.String())
	}
}

func TestToken(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	var buf bytes.Buffer

	if err := Token([]string{"--secret", secret, "--subject", "ops"}, &buf); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	claims, err := auth.NewAuthority(secret).Verify(strings.TrimSpace(buf.String()))
	if err != nil {
		t.Fatalf("Issued token does not verify: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Expected subject ops, got %q", claims.Subject)
	}

	t.Setenv("PIPELINE_ADMIN_SECRET", "")
	if err := Token(nil, &buf); err == nil {
		t.Error("Expected error without a secret")
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("database:\n  driver: postgres\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	err := Validate([]string{"--file", bad}, &buf)
	if err == nil {
		t.Fatal("Expected validation failure")
	}
	if !strings.Contains(buf.String(), "database.driver") {
		t.Errorf("Expected database.driver problem in output:\n%s", buf.String())
	}

	if err := Validate([]string{"--file", filepath.Join(dir, "missing.yaml")}, &buf); err == nil {
		t.Error("Expected error for missing file")
	}
}
