package bench

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sugawarayuuta/sonnet"
)

// A Report collects the results of one sweep.
type Report struct {
	RunID    string    `json:"run_id"`
	Procs    int       `json:"procs"`
	Datatype string    `json:"datatype"`
	Op       string    `json:"op"`
	Network  string    `json:"network"`
	Results  []*Result `json:"results"`
}

// NewReport creates an empty report for a sweep.
func NewReport(cfg *Config) *Report {
	return &Report{
		RunID:    uuid.NewString(),
		Procs:    cfg.Procs,
		Datatype: cfg.Datatype.String(),
		Op:       cfg.Op.String(),
		Network:  cfg.Network.Kind,
	}
}

// WriteMarkdown writes the results as a markdown table.
func (r *Report) WriteMarkdown(w io.Writer) error {
	ew := &errWriter{w: w}
	ew.printf("Run %s: %d procs, %s, %s, %s network\n\n", r.RunID, r.Procs, r.Datatype, r.Op,
		r.Network)
	ew.printf("| Variant | Size | Bytes | Mean | Median | Min | Max | Skew | Messages | Peak memory | Verified |\n")
	ew.printf("|:--|--:|--:|--:|--:|--:|--:|--:|--:|--:|:--|\n")
	for _, res := range r.Results {
		ew.printf("| %s | %s | %s | %s | %s | %s | %s | %s | %s | %s | %v |\n",
			res.Variant,
			humanize.Comma(int64(res.Size)),
			humanize.Bytes(uint64(res.Bytes)),
			formatTime(res.Mean),
			formatTime(res.Median),
			formatTime(res.Min),
			formatTime(res.Max),
			formatTime(res.MeanSkew),
			humanize.Comma(int64(res.Messages)),
			humanize.Bytes(uint64(res.PeakMemory)),
			res.Verified,
		)
	}
	return ew.err
}

// WriteJSON writes the report as a single JSON document.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := sonnet.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "encode report")
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "write report")
	}
	return nil
}

func formatTime(t float64) string {
	return strconv.FormatFloat(t, 'g', 6, 64)
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
