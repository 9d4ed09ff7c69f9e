package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hearbird/hearbird/internal/analyzer"
	"github.com/hearbird/hearbird/internal/errors"
	"github.com/hearbird/hearbird/internal/pipeline"
	"github.com/hearbird/hearbird/internal/results"
	"github.com/hearbird/hearbird/internal/upload"
)

// Multipart form fields accepted by /analyze
const (
	FormFile      = "file"
	FormLatitude  = "lat"
	FormLongitude = "lon"
)

// HealthResponse is the /health payload
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// AnalyzeResponse is the /analyze success payload
type AnalyzeResponse struct {
	Msg     string           `json:"msg"`
	Results []results.Record `json:"results"`
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: APIVersion,
	})
}

// analyze accepts a multipart audio upload and returns the detections.
func (s *Server) analyze(c echo.Context) error {
	fh, err := c.FormFile(FormFile)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			// body limit exceeded while reading a chunked body
			return he
		}
		return echo.NewHTTPError(http.StatusBadRequest, "Missing audio file upload").SetInternal(err)
	}

	loc, err := parseLocation(c.FormValue(FormLatitude), c.FormValue(FormLongitude))
	if err != nil {
		return err
	}

	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, pipeline.MsgInternal).SetInternal(err)
	}
	defer f.Close()

	res, err := s.analyzer.Analyze(c.Request().Context(), pipeline.Request{
		Upload: &upload.Upload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get(echo.HeaderContentType),
			Size:        fh.Size,
			Content:     f,
		},
		Location: loc,
	})
	if err != nil {
		code, message := pipeline.Status(err)
		return echo.NewHTTPError(code, message).SetInternal(err)
	}

	records := res.Records
	if records == nil {
		records = []results.Record{}
	}
	c.Response().Header().Set("Server-Timing", fmt.Sprintf("analyzer;dur=%d, total;dur=%d",
		res.AnalyzerDuration.Milliseconds(), res.Duration.Milliseconds()))

	return c.JSON(http.StatusOK, AnalyzeResponse{
		Msg:     "success",
		Results: records,
	})
}

// parseLocation reads the optional coordinate form values. A location is
// passed to the analyzer only when both are present; each present value
// must still parse and be in range.
func parseLocation(latValue, lonValue string) (*analyzer.Location, error) {
	lat, hasLat, err := parseCoordinate(FormLatitude, latValue, 90)
	if err != nil {
		return nil, err
	}
	lon, hasLon, err := parseCoordinate(FormLongitude, lonValue, 180)
	if err != nil {
		return nil, err
	}
	if !hasLat || !hasLon {
		return nil, nil
	}
	return &analyzer.Location{Latitude: lat, Longitude: lon}, nil
}

func parseCoordinate(field, value string, limit float64) (float64, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("Invalid %s: must be a number", field))
	}
	if f < -limit || f > limit {
		return 0, false, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("Invalid %s: must be between %g and %g", field, -limit, limit))
	}
	return f, true, nil
}
