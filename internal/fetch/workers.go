package fetch

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/fetcher"
)

// PageFetcher is the part of the fetcher the workers use.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*models.FetchResult, error)
}

// run fetches urls with workerCount workers and returns one Result per URL
// in input order.
func run(ctx context.Context, logger *slog.Logger, f PageFetcher, urls []string, workerCount int) []Result {
	if workerCount < 1 {
		workerCount = 1
	}
	logger.Info("Starting concurrent fetch phase", "url_count", len(urls), "workers", workerCount)

	var wg sync.WaitGroup
	jobs := make(chan Job, len(urls))
	results := make(chan Result, len(urls))

	for w := 1; w <= workerCount; w++ {
		wg.Add(1)
		go worker(ctx, w, logger, f, &wg, jobs, results)
	}

	for i, rawURL := range urls {
		jobs <- Job{Index: i, URL: rawURL}
	}
	close(jobs)

	wg.Wait()
	close(results)
	logger.Info("All fetch workers finished")

	allResults := make([]Result, 0, len(urls))
	for result := range results {
		allResults = append(allResults, result)
	}
	sort.Slice(allResults, func(i, j int) bool { return allResults[i].Index < allResults[j].Index })
	return allResults
}

func worker(ctx context.Context, id int, logger *slog.Logger, f PageFetcher, wg *sync.WaitGroup, jobs <-chan Job, results chan<- Result) {
	defer wg.Done()
	for job := range jobs {
		result := Result{Index: job.Index, URL: job.URL}
		if err := ctx.Err(); err != nil {
			result.Error = err
			result.ErrorType = fetcher.ErrorType(err)
			results <- result
			continue
		}

		logger.Debug("Worker started job", "worker_id", id, "url", job.URL)
		page, err := f.Fetch(ctx, job.URL)
		if err != nil {
			logger.Error("Error fetching page", "worker_id", id, "url", job.URL, "error", err)
			result.Error = err
			result.ErrorType = fetcher.ErrorType(err)
			results <- result
			continue
		}

		result.Page = page
		results <- result
		logger.Debug("Worker finished job", "worker_id", id, "url", job.URL, "chars", page.TextLength())
	}
}

// buildOutput summarizes results. Pages are included only when full is set.
func buildOutput(results []Result, invalid []string, full bool) *FinalOutput {
	out := &FinalOutput{Results: make([]ResultOutput, 0, len(results))}
	out.Stats.TotalURLs = len(results) + len(invalid)
	out.Stats.Invalid = invalid

	for _, r := range results {
		ro := ResultOutput{URL: r.URL, Status: "success"}
		if r.Error != nil {
			ro.Status = "failed"
			ro.Error = r.Error.Error()
			ro.ErrorType = r.ErrorType
			out.Stats.Failed++
		} else {
			ro.Chars = r.Page.TextLength()
			if full {
				ro.Page = r.Page
			}
			out.Stats.Successful++
		}
		out.Results = append(out.Results, ro)
	}
	out.Stats.Failed += len(invalid)

	switch {
	case out.Stats.Failed == 0:
		out.Status = "success"
	case out.Stats.Successful == 0:
		out.Status = "failed"
	default:
		out.Status = "partial_success"
	}
	return out
}
