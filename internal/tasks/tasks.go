// package tasks implements bulk theme import and playlist export.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/themeroom/internal/catalog"
	"github.com/desertthunder/themeroom/internal/models"
	"github.com/desertthunder/themeroom/internal/shared"
	"golang.org/x/time/rate"
)

// Resolver looks a theme reference up in the catalog. [*catalog.Client] implements it.
type Resolver interface {
	Lookup(ctx context.Context, ref catalog.Ref) (*models.Track, error)
}

// TrackAdder commits a theme to a playlist through the permission-checked mutation path.
// [*collab.Workflow] implements it.
type TrackAdder interface {
	AddTrack(ctx context.Context, playlistID string, t models.Track) (*models.Track, *models.ChangeRecord, error)
}

// RefResult is the outcome for one reference. Track is the stored track on success.
type RefResult struct {
	Ref   string
	Track *models.Track
	Error error
}

// ImportResult summarizes an import. Results follow the input order.
type ImportResult struct {
	PlaylistID string
	Results    []RefResult
	Added      int
	Failed     int
}

// Tracks returns the tracks that were added, in order.
func (r *ImportResult) Tracks() []models.Track {
	var out []models.Track
	for _, res := range r.Results {
		if res.Error == nil && res.Track != nil {
			out = append(out, *res.Track)
		}
	}
	return out
}

type ImportOpts struct {
	Resolver   Resolver
	Adder      TrackAdder
	Logger     *log.Logger
	NumWorkers int     // default 4, at most 10
	RateLimit  float64 // catalog requests per second, default 2
}

// ImportEngine resolves and adds themes in bulk.
type ImportEngine struct {
	resolver Resolver
	adder    TrackAdder
	logger   *log.Logger
	workers  int
	limit    float64
}

func NewImportEngine(opts ImportOpts) *ImportEngine {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 4
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 2
	}
	return &ImportEngine{
		resolver: opts.Resolver,
		adder:    opts.Adder,
		logger:   opts.Logger,
		workers:  opts.NumWorkers,
		limit:    opts.RateLimit,
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

type resolveJob struct {
	index int
	ref   catalog.Ref
}

// Import resolves refs and appends the themes to playlistID in input order. Malformed,
// duplicate and unresolvable refs are reported per ref. An authorization or authentication
// failure stops the import and is returned with the partial result.
func (e *ImportEngine) Import(ctx context.Context, progress chan<- ProgressUpdate, playlistID string, refs []string) (*ImportResult, error) {
	if e.resolver == nil || e.adder == nil {
		return nil, fmt.Errorf("%w: import engine needs a catalog and a playlist", shared.ErrServiceUnavailable)
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no themes to import", shared.ErrMissingArgument)
	}

	result := &ImportResult{PlaylistID: playlistID, Results: make([]RefResult, len(refs))}
	jobs := make([]resolveJob, 0, len(refs))
	seen := make(map[catalog.Ref]bool, len(refs))
	for i, raw := range refs {
		result.Results[i].Ref = raw
		ref, err := catalog.ParseRef(raw)
		switch {
		case err != nil:
			result.Results[i].Error = err
		case seen[ref]:
			result.Results[i].Error = fmt.Errorf("%w: %s listed twice", shared.ErrDuplicateTrack, ref)
		default:
			seen[ref] = true
			jobs = append(jobs, resolveJob{index: i, ref: ref})
		}
	}

	e.resolve(ctx, progress, jobs, result.Results)
	if err := ctx.Err(); err != nil {
		e.tally(result)
		return result, err
	}

	total := len(refs)
	for i := range result.Results {
		res := &result.Results[i]
		if res.Error == nil {
			added, _, err := e.adder.AddTrack(ctx, playlistID, *res.Track)
			if err != nil {
				res.Track, res.Error = nil, err
				if errors.Is(err, shared.ErrUnauthorized) || errors.Is(err, shared.ErrNotAuthenticated) {
					e.tally(result)
					return result, err
				}
			} else {
				res.Track = added
			}
		}
		sendProgress(progress, addedUpdate(i+1, total, *res))
	}

	e.tally(result)
	e.logger.Info("import finished", "playlist", playlistID, "added", result.Added, "failed", result.Failed)
	return result, nil
}

func (e *ImportEngine) tally(result *ImportResult) {
	result.Added, result.Failed = 0, 0
	for _, res := range result.Results {
		switch {
		case res.Error != nil:
			result.Failed++
		case res.Track != nil && res.Track.ID != "":
			result.Added++
		}
	}
}

// resolve runs the catalog lookups on a worker pool. Each job writes only its own slot.
func (e *ImportEngine) resolve(ctx context.Context, progress chan<- ProgressUpdate, jobs []resolveJob, out []RefResult) {
	limiter := rate.NewLimiter(rate.Limit(e.limit), 1)
	queue := make(chan resolveJob)
	done := make(chan int, len(jobs))

	sendProgress(progress, resolveStartUpdate(len(jobs)))

	var wg sync.WaitGroup
	for range min(e.workers, max(len(jobs), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				if err := limiter.Wait(ctx); err != nil {
					out[job.index].Error = err
					done <- job.index
					continue
				}
				tr, err := e.resolver.Lookup(ctx, job.ref)
				if err == nil && !tr.Playable() {
					err = fmt.Errorf("%w: %s has no media", shared.ErrNoMedia, job.ref)
				}
				out[job.index].Track, out[job.index].Error = tr, err
				if err != nil {
					out[job.index].Track = nil
					e.logger.Warn("theme not resolved", "ref", job.ref, "err", err)
				}
				done <- job.index
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, job := range jobs {
			select {
			case <-ctx.Done():
				return
			case queue <- job:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	step := 0
	for idx := range done {
		step++
		sendProgress(progress, resolvedUpdate(step, len(jobs), out[idx]))
	}

	for _, job := range jobs {
		if out[job.index].Track == nil && out[job.index].Error == nil {
			out[job.index].Error = ctx.Err()
		}
	}
}
