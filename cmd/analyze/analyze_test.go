package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearbird/hearbird/internal/api"
	"github.com/hearbird/hearbird/internal/conf"
	"github.com/hearbird/hearbird/internal/logger"
	"github.com/hearbird/hearbird/internal/pipeline"
	"github.com/hearbird/hearbird/internal/results"
)

const robinCSV = "Start (s),End (s),Scientific name,Common name,Confidence\n" +
	"0.0,3.0,Erithacus rubecula,European Robin,0.9012\n"

func writeWAV(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "garden.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, 22050, 16, 1, 1)
	samples := make([]int, 2205)
	for i := range samples {
		samples[i] = (i % 40) * 250
	}
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 22050},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func decode(t *testing.T, out *bytes.Buffer) []map[string]string {
	t.Helper()
	var detections []map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &detections))
	return detections
}

func TestOptionsLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    Options
		wantNil bool
		wantErr string
	}{
		{name: "none", opts: Options{}, wantNil: true},
		{name: "both", opts: Options{HasLat: true, HasLon: true, Latitude: 60.17, Longitude: 24.94}},
		{name: "lat only", opts: Options{HasLat: true, Latitude: 1}, wantErr: "must be given together"},
		{name: "lat range", opts: Options{HasLat: true, HasLon: true, Latitude: 91}, wantErr: "invalid --lat"},
		{name: "lon range", opts: Options{HasLat: true, HasLon: true, Longitude: -180.5}, wantErr: "invalid --lon"},
		{name: "nan", opts: Options{HasLat: true, HasLon: true, Latitude: math.NaN()}, wantErr: "invalid --lat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			loc, err := tt.opts.location()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, loc)
				return
			}
			require.NotNil(t, loc)
			assert.InDelta(t, tt.opts.Latitude, loc.Latitude, 1e-9)
			assert.InDelta(t, tt.opts.Longitude, loc.Longitude, 1e-9)
		})
	}
}

func TestRunLocal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake analyzer script requires a POSIX shell")
	}
	t.Parallel()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "robin.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(robinCSV), 0o600))

	// arguments: -m <module> <audio> -o <outdir> ...
	python := filepath.Join(dir, "python")
	script := "#!/bin/sh\ncp \"" + csvPath + "\" \"$5/test.BirdNET.results.csv\"\n"
	require.NoError(t, os.WriteFile(python, []byte(script), 0o700))

	scratchRoot := t.TempDir()
	settings := &conf.Settings{}
	settings.Upload.MaxSizeBytes = 1 << 20
	settings.Upload.StrictWAV = true
	settings.Analyzer.Python = python
	settings.Analyzer.Module = conf.DefaultAnalyzerModule
	settings.Analyzer.Timeout = 10 * time.Second
	settings.Analyzer.MaxOutputBytes = 1 << 16
	settings.Scratch.Root = scratchRoot

	var out bytes.Buffer
	err := Run(t.Context(), settings, writeWAV(t, dir), Options{}, &out)
	require.NoError(t, err)

	assert.Equal(t, []map[string]string{{
		"start":          "0.0",
		"end":            "3.0",
		"scientificName": "Erithacus rubecula",
		"commonName":     "European Robin",
		"confidence":     "0.9012",
	}}, decode(t, &out))

	entries, err := os.ReadDir(scratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunMissingFile(t *testing.T) {
	t.Parallel()

	err := Run(t.Context(), &conf.Settings{}, filepath.Join(t.TempDir(), "nope.wav"), Options{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error opening audio file")
}

// staticAnalyzer answers every request with one record and remembers the
// location it was given
type staticAnalyzer struct {
	mu  sync.Mutex
	got *pipeline.Request
}

func (s *staticAnalyzer) Analyze(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = &req
	return &pipeline.Result{Records: []results.Record{{
		{Key: "commonName", Value: "European Robin"},
		{Key: "confidence", Value: "0.9012"},
	}}}, nil
}

func TestRunRemote(t *testing.T) {
	t.Parallel()

	config := api.DefaultConfig()
	config.APIKeys = []string{"remote-key"}
	config.RateLimitEnabled = false
	fake := &staticAnalyzer{}
	server, err := api.New(config, fake, api.WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	var out bytes.Buffer
	opts := Options{
		Remote:    ts.URL,
		APIKey:    "remote-key",
		HasLat:    true,
		HasLon:    true,
		Latitude:  51.5,
		Longitude: -0.12,
	}
	err = Run(t.Context(), &conf.Settings{}, writeWAV(t, t.TempDir()), opts, &out)
	require.NoError(t, err)

	assert.Equal(t, []map[string]string{{
		"commonName": "European Robin",
		"confidence": "0.9012",
	}}, decode(t, &out))

	fake.mu.Lock()
	got := fake.got
	fake.mu.Unlock()
	require.NotNil(t, got)
	require.NotNil(t, got.Location)
	assert.InDelta(t, 51.5, got.Location.Latitude, 1e-9)
	assert.Equal(t, "garden.wav", got.Upload.Filename)
	assert.Equal(t, "audio/wav", got.Upload.ContentType)

	err = Run(t.Context(), &conf.Settings{}, writeWAV(t, t.TempDir()), Options{Remote: ts.URL, APIKey: "wrong"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid API key")
}
