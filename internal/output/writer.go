package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tickwrangler/internal/aggregator"
	"tickwrangler/internal/market"
	"tickwrangler/internal/memorystore"

	"go.uber.org/zap"
)

// Mode selects which files the writer produces.
type Mode string

const (
	ModeSeparate   Mode = "separate"
	ModeAggregated Mode = "aggregated"
	ModeBoth       Mode = "both"
)

// ParseMode validates a configured output mode. Empty means aggregated.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeSeparate, ModeAggregated, ModeBoth:
		return m, nil
	case "":
		return ModeAggregated, nil
	}
	return "", fmt.Errorf("unknown output mode %q", s)
}

func (m Mode) separate() bool { return m == ModeSeparate || m == ModeBoth }

func (m Mode) aggregated() bool { return m == ModeAggregated || m == ModeBoth }

// RowSource is the synchronized view the aggregated file is built from.
type RowSource interface {
	Instruments() []*market.Instrument
	Rows() []*aggregator.Row
}

// BucketSource is one instrument's timeline, the input of a separate file.
type BucketSource interface {
	Instrument() *market.Instrument
	Buckets() []*memorystore.Bucket
}

// Options configures a Writer.
type Options struct {
	Dir         string
	Mode        Mode
	CutoffHour  int
	PriceLevels int
	// AllStates writes every state of a bucket to separate files instead of
	// the latest one only.
	AllStates bool
}

// Summary describes what one Write produced.
type Summary struct {
	Files          []string
	AggregatedRows int
	InstrumentRows map[string]int
}

// Writer renders synchronized rows and instrument timelines to day-rotated CSV files.
type Writer struct {
	opts   Options
	logger *zap.Logger
}

func NewWriter(opts Options, logger *zap.Logger) *Writer {
	if opts.PriceLevels <= 0 {
		opts.PriceLevels = DefaultPriceLevels
	}
	if opts.Mode == "" {
		opts.Mode = ModeAggregated
	}
	return &Writer{opts: opts, logger: logger}
}

// Write renders rows and timelines according to the configured mode.
func (w *Writer) Write(rows RowSource, timelines []BucketSource) (Summary, error) {
	sum := Summary{InstrumentRows: make(map[string]int)}

	if err := os.MkdirAll(w.opts.Dir, 0o755); err != nil {
		return sum, fmt.Errorf("create output dir: %w", err)
	}

	if w.opts.Mode.aggregated() && rows != nil {
		files, n, err := w.writeAggregated(rows)
		sum.Files = append(sum.Files, files...)
		sum.AggregatedRows = n
		if err != nil {
			return sum, err
		}
	}

	if w.opts.Mode.separate() {
		for _, tl := range timelines {
			files, n, err := w.writeInstrument(tl)
			sum.Files = append(sum.Files, files...)
			sum.InstrumentRows[tl.Instrument().Name()] = n
			if err != nil {
				return sum, err
			}
		}
	}

	w.logger.Info("output written",
		zap.Int("files", len(sum.Files)),
		zap.Int("aggregated_rows", sum.AggregatedRows))
	return sum, nil
}

func (w *Writer) writeAggregated(src RowSource) ([]string, int, error) {
	insts := src.Instruments()
	header := make([]string, 0, len(insts)*Width(w.opts.PriceLevels))
	for range insts {
		header = append(header, Header(w.opts.PriceLevels)...)
	}

	rf := newRotatingFile(w.opts.Dir, "All_Mkts_", header, w.opts.CutoffHour)
	defer rf.close()

	n := 0
	for _, row := range src.Rows() {
		if err := rf.write(row.Time(), RowRecord(row, insts, w.opts.PriceLevels)); err != nil {
			return rf.files, n, err
		}
		n++
	}
	return rf.files, n, rf.close()
}

func (w *Writer) writeInstrument(src BucketSource) ([]string, int, error) {
	inst := src.Instrument()
	rf := newRotatingFile(w.opts.Dir, inst.Name()+"_", Header(w.opts.PriceLevels), w.opts.CutoffHour)
	defer rf.close()

	n := 0
	for _, b := range src.Buckets() {
		states := b.States()
		if len(states) == 0 {
			continue
		}
		if !w.opts.AllStates {
			states = states[len(states)-1:]
		}
		for _, s := range states {
			if err := rf.write(b.Time(), Record(s, w.opts.PriceLevels)); err != nil {
				return rf.files, n, err
			}
			n++
		}
	}
	return rf.files, n, rf.close()
}

// rotatingFile starts a new <prefix><yyyymmdd>.csv when the calendar day
// changes and the hour has reached the cutoff.
type rotatingFile struct {
	dir    string
	prefix string
	header []string
	cutoff int

	day   time.Time
	f     *os.File
	csv   *csv.Writer
	files []string
}

func newRotatingFile(dir, prefix string, header []string, cutoff int) *rotatingFile {
	return &rotatingFile{dir: dir, prefix: prefix, header: header, cutoff: cutoff}
}

func (r *rotatingFile) write(at time.Time, rec []string) error {
	if r.f == nil || (!sameDay(at, r.day) && at.Hour() >= r.cutoff) {
		if err := r.rotate(at); err != nil {
			return err
		}
	}
	if err := r.csv.Write(rec); err != nil {
		return fmt.Errorf("write %s: %w", r.f.Name(), err)
	}
	return nil
}

func (r *rotatingFile) rotate(at time.Time) error {
	if err := r.close(); err != nil {
		return err
	}

	path := filepath.Join(r.dir, r.prefix+at.Format("20060102")+".csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	r.f = f
	r.csv = csv.NewWriter(f)
	r.day = at
	r.files = append(r.files, path)
	if err := r.csv.Write(r.header); err != nil {
		return fmt.Errorf("write header %s: %w", path, err)
	}
	return nil
}

func (r *rotatingFile) close() error {
	if r.f == nil {
		return nil
	}
	r.csv.Flush()
	err := r.csv.Error()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	r.f, r.csv = nil, nil
	if err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
