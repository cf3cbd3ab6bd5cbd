// Package filerunner computes the routes of a tab separated input file and
// writes one CSV or JSON record per pair.
package filerunner

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gosom/courier-routes/deduper"
	"github.com/gosom/courier-routes/models"
	"github.com/gosom/courier-routes/runner"
	"github.com/gosom/courier-routes/s3uploader"
	"github.com/gosom/courier-routes/tlmt"
)

// RouteComputer is the calculator as seen by the batch.
type RouteComputer interface {
	Compute(ctx context.Context, origin, destination string) (models.RouteResult, error)
}

// Pair is one line of the input file.
type Pair struct {
	Line        int
	Origin      string
	Destination string
}

// Record is one output row.
type Record struct {
	Line            int         `json:"line"`
	Origin          string      `json:"origin"`
	Destination     string      `json:"destination"`
	Status          models.Code `json:"status"`
	DistanceMeters  int         `json:"distance_meters,omitempty"`
	Km              float64     `json:"km,omitempty"`
	DurationSeconds int         `json:"duration_seconds,omitempty"`
	Source          string      `json:"source,omitempty"`
	Message         string      `json:"message,omitempty"`
}

var csvHeader = []string{
	"line", "origin", "destination", "status",
	"distance_meters", "km", "duration_seconds", "source", "message",
}

type fileRunner struct {
	cfg     *runner.Config
	routes  RouteComputer
	svc     *runner.Services
	input   io.Reader
	output  io.Writer
	infile  *os.File
	outfile *os.File
	logger  *zap.Logger
}

func New(cfg *runner.Config, logger *zap.Logger) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeFile {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.S3Bucket != "" && cfg.S3Uploader == nil {
		up, err := s3uploader.New(context.Background(), cfg.AwsAccessKey, cfg.AwsSecretKey, cfg.AwsRegion)
		if err != nil {
			return nil, err
		}

		cfg.S3Uploader = up
	}

	svc, err := runner.NewServices(cfg, logger)
	if err != nil {
		return nil, err
	}

	ans := &fileRunner{
		cfg:    cfg,
		routes: svc.Routes,
		svc:    svc,
		logger: logger.Named("filerunner"),
	}

	if err := ans.setInput(); err != nil {
		_ = ans.Close(context.Background())
		return nil, err
	}

	if err := ans.setOutput(); err != nil {
		_ = ans.Close(context.Background())
		return nil, err
	}

	return ans, nil
}

func (r *fileRunner) Run(ctx context.Context) (err error) {
	var stats batchStats

	t0 := time.Now().UTC()

	defer func() {
		runner.SendEvent(ctx, func() tlmt.Event {
			return tlmt.NewBatchEvent(stats.computed, stats.failed, stats.skipped, time.Since(t0), err)
		})
	}()

	pairs, skipped, err := ReadPairs(ctx, r.input, deduper.New())
	if err != nil {
		return err
	}

	stats.skipped = skipped

	records, err := computeAll(ctx, r.routes, pairs, r.cfg.Concurrency)
	if err != nil {
		return err
	}

	for i := range records {
		if records[i].Status == models.CodeOK {
			stats.computed++
		} else {
			stats.failed++
		}
	}

	if r.cfg.JSON {
		err = WriteJSON(r.output, records)
	} else {
		err = WriteCSV(r.output, records)
	}

	if err != nil {
		return err
	}

	r.logger.Info("batch finished",
		zap.Int("computed", stats.computed),
		zap.Int("failed", stats.failed),
		zap.Int("skipped", stats.skipped),
		zap.Duration("duration", time.Since(t0)),
	)

	return r.upload(ctx)
}

func (r *fileRunner) Close(context.Context) error {
	var err error

	if r.infile != nil {
		err = multierr.Append(err, r.infile.Close())
		r.infile = nil
	}

	if r.outfile != nil {
		err = multierr.Append(err, r.outfile.Close())
		r.outfile = nil
	}

	if r.svc != nil {
		err = multierr.Append(err, r.svc.Close())
		r.svc = nil
	}

	return err
}

func (r *fileRunner) setInput() error {
	switch r.cfg.InputFile {
	case "stdin":
		r.input = os.Stdin
	default:
		f, err := os.Open(r.cfg.InputFile)
		if err != nil {
			return err
		}

		r.infile = f
		r.input = f
	}

	return nil
}

func (r *fileRunner) setOutput() error {
	switch r.cfg.ResultsFile {
	case "stdout":
		r.output = os.Stdout
	default:
		f, err := os.Create(r.cfg.ResultsFile)
		if err != nil {
			return err
		}

		r.outfile = f
		r.output = f
	}

	return nil
}

// upload sends the results file to S3 once it is complete.
func (r *fileRunner) upload(ctx context.Context) error {
	if r.cfg.S3Bucket == "" || r.outfile == nil {
		return nil
	}

	if err := r.outfile.Sync(); err != nil {
		return err
	}

	if _, err := r.outfile.Seek(0, io.SeekStart); err != nil {
		return err
	}

	key := filepath.Base(r.cfg.ResultsFile)

	if err := r.cfg.S3Uploader.Upload(ctx, r.cfg.S3Bucket, key, r.outfile); err != nil {
		return err
	}

	r.logger.Info("results uploaded", zap.String("bucket", r.cfg.S3Bucket), zap.String("key", key))

	return nil
}

type batchStats struct {
	computed int
	failed   int
	skipped  int
}

// ReadPairs parses one origin<TAB>destination pair per line. Blank lines and
// lines starting with # are ignored; pairs already seen count as skipped.
func ReadPairs(ctx context.Context, in io.Reader, dedup deduper.Deduper) ([]Pair, int, error) {
	var (
		pairs   []Pair
		skipped int
	)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		origin, destination, ok := strings.Cut(text, "\t")
		origin, destination = strings.TrimSpace(origin), strings.TrimSpace(destination)

		if !ok || origin == "" || destination == "" {
			return nil, 0, fmt.Errorf("line %d: expected origin and destination separated by a tab", line)
		}

		if !dedup.AddIfNotExists(ctx, deduper.PairKey(origin, destination)) {
			skipped++
			continue
		}

		pairs = append(pairs, Pair{Line: line, Origin: origin, Destination: destination})
	}

	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}

	return pairs, skipped, nil
}

// computeAll computes every pair with at most concurrency in flight. Route
// failures become records; only cancellation aborts the batch.
func computeAll(ctx context.Context, routes RouteComputer, pairs []Pair, concurrency int) ([]Record, error) {
	records := make([]Record, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for i := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			res, err := routes.Compute(gctx, pairs[i].Origin, pairs[i].Destination)
			records[i] = newRecord(pairs[i], res, err)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

func newRecord(p Pair, res models.RouteResult, err error) Record {
	rec := Record{
		Line:        p.Line,
		Origin:      p.Origin,
		Destination: p.Destination,
	}

	if err != nil {
		rec.Status = models.CodeOf(err)
		rec.Message = models.MessageOf(err)

		return rec
	}

	resp := models.NewRouteResponse(res)

	rec.Status = resp.Status
	rec.DistanceMeters = resp.Distance.ValueMeters
	rec.Km = resp.Distance.Km
	rec.DurationSeconds = resp.Duration.ValueSeconds
	rec.Source = string(resp.Source)

	return rec
}

func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for i := range records {
		rec := &records[i]

		row := []string{
			strconv.Itoa(rec.Line),
			rec.Origin,
			rec.Destination,
			string(rec.Status),
			strconv.Itoa(rec.DistanceMeters),
			strconv.FormatFloat(rec.Km, 'f', 3, 64),
			strconv.Itoa(rec.DurationSeconds),
			rec.Source,
			rec.Message,
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

func WriteJSON(w io.Writer, records []Record) error {
	if records == nil {
		records = []Record{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(records)
}
