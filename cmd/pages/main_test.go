package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/pages/internal/config"
	"github.com/vango-dev/pages/internal/deploy"
	"github.com/vango-dev/pages/internal/errors"
)

func TestMain(m *testing.M) {
	errors.DisableColors()
	os.Exit(m.Run())
}

// capture redirects the CLI output streams for one test.
func capture(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	t.Cleanup(func() {
		stdout, stderr = prevOut, prevErr
	})
	return out, errOut
}

func writeProject(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `{"baseUrl": "` + baseURL + `", "distDirectory": "dist", "variants": [{"contentDirectory": "content"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ConfigFileName), []byte(cfg), 0644))
	return dir
}

func TestVersion(t *testing.T) {
	out, _ := capture(t)
	assert.Equal(t, 0, run([]string{"version", "--short"}))
	assert.Equal(t, "dev\n", out.String())

	out.Reset()
	assert.Equal(t, 0, run([]string{"version"}))
	assert.Contains(t, out.String(), "Go version:")
}

func TestBuildMissingEntry(t *testing.T) {
	_, errOut := capture(t)
	dir := writeProject(t, "https://example.com/")

	code := run([]string{"build", filepath.Join(dir, "src", "missing.jsx"), "--config", filepath.Join(dir, config.ConfigFileName)})
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "E150")
}

func TestBuildMissingConfig(t *testing.T) {
	_, errOut := capture(t)
	dir := t.TempDir()

	code := run([]string{"build", "index.jsx", "--config", filepath.Join(dir, config.ConfigFileName)})
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "E100")
}

func TestStartRejectsBadPort(t *testing.T) {
	_, errOut := capture(t)
	assert.Equal(t, 1, run([]string{"start", "index.jsx", "http"}))
	assert.Contains(t, errOut.String(), `invalid port "http"`)
}

func TestBuildRequiresEntry(t *testing.T) {
	capture(t)
	assert.Equal(t, 1, run([]string{"build"}))
}

func TestParsePort(t *testing.T) {
	port, err := parsePort([]string{"a.jsx"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, port)

	port, err = parsePort([]string{"a.jsx", "8080"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	_, err = parsePort([]string{"70000"}, 0)
	assert.Error(t, err)
}

func TestLoadConfigSearchesUpward(t *testing.T) {
	dir := writeProject(t, "https://example.com/docs/")
	nested := filepath.Join(dir, "src", "pages")
	require.NoError(t, os.MkdirAll(nested, 0755))
	t.Chdir(nested)
	configPath = ""

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/docs/", cfg.BasePath())
	assert.Equal(t, filepath.Join(dir, "dist"), cfg.DistPath())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PAGES_DOTENV_TEST=loaded\n"), 0644))
	t.Chdir(dir)
	t.Setenv("PAGES_DOTENV_TEST", "")
	require.NoError(t, os.Unsetenv("PAGES_DOTENV_TEST"))

	require.NoError(t, loadDotEnv())
	assert.Equal(t, "loaded", os.Getenv("PAGES_DOTENV_TEST"))
}

func TestLoadDotEnvMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	assert.NoError(t, loadDotEnv())
}

func TestServeDist(t *testing.T) {
	out, _ := capture(t)
	dir := writeProject(t, "https://example.com/docs/")
	dist := filepath.Join(dir, "dist")
	require.NoError(t, os.MkdirAll(filepath.Join(dist, "guide"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "guide", "index.html"), []byte("<h1>guide</h1>"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "404.html"), []byte("<h1>missing</h1>"), 0644))

	cfg, err := config.LoadFile(filepath.Join(dir, config.ConfigFileName))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveDist(ctx, cfg, ln, false)
	}()

	base := "http://" + ln.Addr().String()
	resp, err := http.Get(base + "/docs/guide")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>guide</h1>", string(body))

	resp, err = http.Get(base + "/docs/nope")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "<h1>missing</h1>", string(body))
	assert.NotContains(t, string(body), "<script>")

	resp, err = http.Get(base + "/_pages/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serveDist did not return after cancel")
	}
	assert.Contains(t, out.String(), "Serving dist at http://")
}

func TestNewPublisher(t *testing.T) {
	capture(t)
	cfg := config.New()

	pub, err := newPublisher(context.Background(), cfg, deployOptions{branch: "site"})
	require.NoError(t, err)
	git, ok := pub.(*deploy.GitPublisher)
	require.True(t, ok)
	assert.Equal(t, "site", git.Branch)

	pub, err = newPublisher(context.Background(), cfg, deployOptions{
		s3Bucket:   "bucket",
		s3Prefix:   "docs",
		s3Region:   "us-east-1",
		s3Endpoint: "http://127.0.0.1:9000",
	})
	require.NoError(t, err)
	s3pub, ok := pub.(*deploy.S3Publisher)
	require.True(t, ok)
	assert.Equal(t, "bucket", s3pub.Bucket)
	assert.Equal(t, "docs/index.html", s3pub.Key("index.html"))
}

func TestProgressStepPrintedVerbatim(t *testing.T) {
	out, _ := capture(t)
	report := progressReporter()
	report("1/2 Bundling 100% of assets")
	assert.Equal(t, "  1/2 Bundling 100% of assets\n", out.String())
}
