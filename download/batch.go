package download

import (
	"context"
	"fmt"
	"sync"

	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/service"
	"github.com/geowatch/eogate/service/log"
	"golang.org/x/sync/errgroup"
)

const defaultWorkers = 2

// BatchResult is the per-product outcome of one DownloadAll run.
type BatchResult struct {
	// Succeeded jobs that went through the full lifecycle.
	Succeeded []*Job
	// Skipped jobs resolved from a resume marker without network access, plus
	// duplicates of a product already handled in this batch.
	Skipped []*Job
	// Failed errors keyed by product id. TIMEDOUT products land here with a
	// retryable NotAvailableError.
	Failed map[string]error
}

// DownloadAll downloads the products through a bounded worker pool. Products
// sharing a remote location are downloaded once: duplicates are reported as
// skipped, and a failure is never silently retried within the batch. The
// returned error is a PartialFailure when at least one product failed; the
// result always carries every outcome.
func (d *Downloader) DownloadAll(ctx context.Context, products []*common.Product) (*BatchResult, error) {
	workers := d.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var unique []*common.Product
	seen := service.StringSet{}
	result := &BatchResult{Failed: map[string]error{}}
	for _, product := range products {
		location := product.RemoteLocation()
		if seen.Exists(location) {
			result.Skipped = append(result.Skipped, &Job{Product: product, State: JobNOTSTARTED})
			continue
		}
		seen.Push(location)
		unique = append(unique, product)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, product := range unique {
		g.Go(func() error {
			if localPath, ok := d.resumed(product); ok {
				product.LocalPath = localPath
				mu.Lock()
				result.Skipped = append(result.Skipped, &Job{Product: product, State: JobDONE, OutputDir: localPath})
				mu.Unlock()
				return nil
			}
			job, err := d.Download(gctx, product)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[product.ID] = err
				return nil
			}
			result.Succeeded = append(result.Succeeded, job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("DownloadAll.%w", err)
	}

	if d.Progress != nil {
		log.Logger(ctx).Sugar().Infof("batch done: %d downloaded, %d skipped, %d failed (%s)",
			len(result.Succeeded), len(result.Skipped), len(result.Failed), service.FmtBytes(d.Progress.Bytes()))
	}
	if len(result.Failed) > 0 {
		return result, service.PartialFailure{Errors: result.Failed}
	}
	return result, nil
}
