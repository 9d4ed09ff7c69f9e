// Package analyze implements the command analyzing a single audio file,
// either in-process or against a running service.
package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hearbird/hearbird/internal/analyzer"
	"github.com/hearbird/hearbird/internal/client"
	"github.com/hearbird/hearbird/internal/conf"
	"github.com/hearbird/hearbird/internal/pipeline"
	"github.com/hearbird/hearbird/internal/upload"
)

// Options are the analyze command flags
type Options struct {
	Latitude  float64
	Longitude float64
	HasLat    bool
	HasLon    bool
	Remote    string // service base URL, empty to analyze in-process
	APIKey    string
}

// Command creates the analyze command.
func Command(ctx *conf.Context) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "analyze [audio file]",
		Short: "Analyze an audio file",
		Long:  "Run BirdNET on one audio file and print the detections as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.HasLat = cmd.Flags().Changed("lat")
			opts.HasLon = cmd.Flags().Changed("lon")
			return Run(cmd.Context(), ctx.Settings, args[0], opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Float64Var(&opts.Latitude, "lat", 0, "Recording latitude, -90 to 90")
	cmd.Flags().Float64Var(&opts.Longitude, "lon", 0, "Recording longitude, -180 to 180")
	cmd.Flags().StringVar(&opts.Remote, "remote", "", "Base URL of a running hearbird service")
	cmd.Flags().StringVar(&opts.APIKey, "api-key", os.Getenv("HEARBIRD_API_KEY"), "API key for --remote")

	return cmd
}

// Run analyzes path and writes the detections to out as a JSON array.
func Run(ctx context.Context, settings *conf.Settings, path string, opts Options, out io.Writer) error {
	loc, err := opts.location()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening audio file: %w", err)
	}
	defer f.Close()

	var detections any
	if opts.Remote != "" {
		detections, err = analyzeRemote(ctx, settings, f, opts, loc)
	} else {
		detections, err = analyzeLocal(ctx, settings, f, loc)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(detections)
}

func analyzeLocal(ctx context.Context, settings *conf.Settings, f *os.File, loc *analyzer.Location) (any, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("error reading audio file: %w", err)
	}

	p, err := pipeline.NewFromSettings(settings, nil)
	if err != nil {
		return nil, err
	}

	name := filepath.Base(f.Name())
	result, err := p.Analyze(ctx, pipeline.Request{
		Upload: &upload.Upload{
			Filename:    name,
			ContentType: upload.ContentTypeFor(name),
			Size:        info.Size(),
			Content:     f,
		},
		Location: loc,
	})
	if err != nil {
		return nil, err
	}
	if result.Records == nil {
		return []any{}, nil
	}
	return result.Records, nil
}

func analyzeRemote(ctx context.Context, settings *conf.Settings, f *os.File, opts Options, loc *analyzer.Location) (any, error) {
	c, err := client.New(opts.Remote, opts.APIKey, client.WithTimeout(settings.WebServer.WriteTimeout))
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var remoteLoc *client.Location
	if loc != nil {
		remoteLoc = &client.Location{Latitude: loc.Latitude, Longitude: loc.Longitude}
	}

	records, err := c.Analyze(ctx, filepath.Base(f.Name()), f, remoteLoc)
	if err != nil {
		return nil, err
	}
	if records == nil {
		return []any{}, nil
	}
	return records, nil
}

// location returns the recording site, nil when no coordinates were given
func (o Options) location() (*analyzer.Location, error) {
	if !o.HasLat && !o.HasLon {
		return nil, nil
	}
	if o.HasLat != o.HasLon {
		return nil, fmt.Errorf("--lat and --lon must be given together")
	}
	if err := checkRange("lat", o.Latitude, 90); err != nil {
		return nil, err
	}
	if err := checkRange("lon", o.Longitude, 180); err != nil {
		return nil, err
	}
	return &analyzer.Location{Latitude: o.Latitude, Longitude: o.Longitude}, nil
}

func checkRange(name string, value, limit float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < -limit || value > limit {
		return fmt.Errorf("invalid --%s: must be between %g and %g", name, -limit, limit)
	}
	return nil
}
