package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/omnicrawler/internal/config"
	"github.com/JakeFAU/omnicrawler/internal/crawler"
	"github.com/JakeFAU/omnicrawler/internal/worker"
)

type fakeApp struct {
	seeds   []crawler.SeedDescriptor
	summary worker.Summary
	runErr  error
	ran     bool
	closed  bool
}

func (f *fakeApp) Run(context.Context) error {
	f.ran = true
	return f.runErr
}

func (f *fakeApp) RunCrawl(_ context.Context, seed crawler.SeedDescriptor) (worker.Summary, error) {
	f.seeds = append(f.seeds, seed)
	return f.summary, nil
}

func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }

func (f *fakeApp) Close() { f.closed = true }

// withFakeApp swaps the factory; tests using it cannot run in parallel.
func withFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandPrintsSummary(t *testing.T) {
	app := &fakeApp{summary: worker.Summary{Total: 4, Changed: 3, Unchanged: 1}}
	withFakeApp(t, app)

	out, err := execute("crawl", "--seed-type", "tag", "--seed-value", "golang", "--max-profiles", "4", "--mode", "real")
	require.NoError(t, err)

	var got worker.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, app.summary, got)

	require.Len(t, app.seeds, 1)
	seed := app.seeds[0]
	require.Equal(t, crawler.SeedTypeTag, seed.Type)
	require.Equal(t, "golang", seed.Value)
	require.Equal(t, 4, seed.Config.MaxRecords)
	require.Equal(t, crawler.ModeReal, seed.Config.Mode)
	require.Equal(t, crawler.DefaultRequestTimeout, seed.Config.RequestTimeout)
	require.True(t, app.closed)
}

func TestCrawlCommandKeepsConfiguredDefaults(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute("crawl", "--seed-value", "alice")
	require.NoError(t, err)
	require.Len(t, app.seeds, 1)
	require.Equal(t, crawler.SeedTypeUser, app.seeds[0].Type)
	require.Equal(t, crawler.DefaultCrawlConfig(), app.seeds[0].Config)
}

func TestCrawlCommandRequiresSeedValue(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute("crawl")
	require.Error(t, err)
	require.Empty(t, app.seeds)
}

func TestServeCommandRunsApp(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute("serve")
	require.NoError(t, err)
	require.True(t, app.ran)
}

func TestServeCommandSurfacesRunError(t *testing.T) {
	app := &fakeApp{runErr: errors.New("port in use")}
	withFakeApp(t, app)

	_, err := execute("serve")
	require.ErrorContains(t, err, "port in use")
}

func TestRootFailsOnMissingConfigFile(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := execute("--config", "/does/not/exist.yaml", "crawl", "--seed-value", "x")
	require.ErrorContains(t, err, "load config")
}
