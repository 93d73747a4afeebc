// Package runner schedules calling windows over workers, enforces per-window
// wall-clock budgets, and releases output records in genome order.
package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/pkg/errors"

	"github.com/grailbio/varcall/bed"
	"github.com/grailbio/varcall/caller"
	"github.com/grailbio/varcall/genome"
	"github.com/grailbio/varcall/vcf"
)

// ExitCode is the process exit contract.
type ExitCode int

// Exit codes.
const (
	ExitSuccess  ExitCode = 0
	ExitConfig   ExitCode = 1
	ExitInputIO  ExitCode = 2
	ExitOutputIO ExitCode = 3
	ExitInternal ExitCode = 4
)

// Opts configure a run.
type Opts struct {
	// Threads is the worker count; 0 means one worker per window batch up to
	// the runtime default.
	Threads int
	// WindowSize bounds each calling window.
	WindowSize int
	// WindowTimeout aborts a window's inference after the budget; the window
	// emits a sentinel record and the run continues.  Zero disables the
	// budget.
	WindowTimeout time.Duration
	// Regions restricts calling to these regions (e.g. from a BED file);
	// empty means the whole genome.
	Regions []genome.Region
}

// DefaultWindowSize bounds haplotype enumeration per window.
const DefaultWindowSize = 1000

// Windows partitions the callable genome into non-overlapping calling
// windows in (contig, begin) order.
func Windows(contigs []genome.Region, restrict []genome.Region, size int) []genome.Region {
	if size <= 0 {
		size = DefaultWindowSize
	}
	callable := contigs
	if len(restrict) > 0 {
		callable = bed.Intersect(contigs, bed.Merge(restrict))
	}
	var out []genome.Region
	for _, r := range callable {
		for begin := r.Begin; begin < r.End; begin += size {
			end := begin + size
			if end > r.End {
				end = r.End
			}
			out = append(out, genome.Region{Contig: r.Contig, Begin: begin, End: end})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// PipelineFactory builds a worker-owned pipeline for one contig, so
// per-contig ploidy overrides bind at construction.  Each worker gets its own
// caller and inference temporaries; no inference state is shared between
// windows.
type PipelineFactory func(contig string) (*caller.Pipeline, error)

// windowResult is one window's finished output, buffered until every earlier
// window has been released.
type windowResult struct {
	records []*vcf.Record
}

// orderedEmitter releases window results in index order.
type orderedEmitter struct {
	mu      sync.Mutex
	next    int
	pending map[int]*windowResult
	w       *vcf.Writer
	err     error
}

func (e *orderedEmitter) emit(idx int, res *windowResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[idx] = res
	for {
		res, ok := e.pending[e.next]
		if !ok {
			return
		}
		delete(e.pending, e.next)
		e.next++
		if e.err != nil {
			continue
		}
		for _, rec := range res.records {
			if err := e.w.Write(rec); err != nil {
				e.err = errors.Wrap(err, "writing output record")
				break
			}
		}
	}
}

// Run drives the windows through worker pipelines and writes ordered output.
// Per-window failures become sentinel records; only I/O and configuration
// errors abort the run.
func Run(ctx context.Context, factory PipelineFactory, windows []genome.Region, opts Opts, out *vcf.Writer) error {
	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}
	if threads > len(windows) && len(windows) > 0 {
		threads = len(windows)
	}
	emitter := &orderedEmitter{pending: make(map[int]*windowResult), w: out}

	// One pipeline per worker slot; windows are chunked contiguously so each
	// worker's output is a run of consecutive indices.
	nWindows := len(windows)
	err := traverse.Each(threads, func(jobIdx int) error {
		var pipeline *caller.Pipeline
		contig := ""
		startIdx := (jobIdx * nWindows) / threads
		endIdx := ((jobIdx + 1) * nWindows) / threads
		for idx := startIdx; idx < endIdx; idx++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			window := windows[idx]
			if pipeline == nil || window.Contig != contig {
				var err error
				if pipeline, err = factory(window.Contig); err != nil {
					return err
				}
				contig = window.Contig
			}
			records, err := callWindow(ctx, pipeline, window, opts.WindowTimeout)
			if err != nil {
				// Degrade, never propagate: the window yields a sentinel
				// record and the scheduler moves on.
				log.Error.Printf("window %s failed: %v", window, err)
				records = []*vcf.Record{caller.SentinelRecord(window, reason(err))}
			}
			emitter.emit(idx, &windowResult{records: records})
		}
		return nil
	})
	if err != nil {
		return err
	}
	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	return emitter.err
}

func reason(err error) string {
	if errors.Cause(err) == context.DeadlineExceeded {
		return "timeout"
	}
	return "error"
}

// callWindow runs one window under its wall-clock budget: calls, read
// re-assignment against the called haplotypes, and measure decoration all
// happen inside the pipeline's record flow.
func callWindow(ctx context.Context, pipeline *caller.Pipeline, window genome.Region,
	timeout time.Duration) ([]*vcf.Record, error) {
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return pipeline.CallRegionRecords(wctx, window)
}

// Classify maps an error to the process exit contract.
func Classify(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	switch errors.Cause(err).(type) {
	case *ConfigError:
		return ExitConfig
	case *InputError:
		return ExitInputIO
	case *OutputError:
		return ExitOutputIO
	}
	return ExitInternal
}

// ConfigError marks fatal configuration problems.
type ConfigError struct{ Err error }

func (e *ConfigError) Error() string { return "configuration: " + e.Err.Error() }

// InputError marks fatal input I/O problems.
type InputError struct{ Err error }

func (e *InputError) Error() string { return "input: " + e.Err.Error() }

// OutputError marks fatal output I/O problems.
type OutputError struct{ Err error }

func (e *OutputError) Error() string { return "output: " + e.Err.Error() }
