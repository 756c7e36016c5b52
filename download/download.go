// Package download drives the product retrieval lifecycle: ordering offline
// products, polling until retrieval, fetching, extracting and resuming.
package download

import (
	"context"
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/interface/plugin"
	"github.com/geowatch/eogate/service"
	"github.com/geowatch/eogate/service/log"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultPollTimeout  = 20 * time.Minute
	defaultMaxRetries   = 3
)

// Downloader runs download jobs against the plugin set.
type Downloader struct {
	Manager *plugin.Manager
	// OutputDir receives one directory per product.
	OutputDir string
	// Workers bounds the batch pool (see DownloadAll), default 2.
	Workers int
	// Progress aggregates bytes over concurrent fetches. Optional.
	Progress *service.Progress
}

// Job tracks one product through the lifecycle.
type Job struct {
	Product  *common.Product
	State    JobState
	Attempts int
	Err      error
	// OutputDir of the fetched product, set from FETCHED onwards.
	OutputDir string
}

func (j *Job) fail(err error) error {
	j.State = JobFAILED
	j.Err = err
	return err
}

// Download runs the whole lifecycle of one product and returns its job. The
// returned error is nil when the job reached DONE. An already-downloaded
// product (resume marker present) short-circuits to DONE without any network
// access. A product still unavailable after the poll timeout ends TIMEDOUT
// with a retryable NotAvailableError.
func (d *Downloader) Download(ctx context.Context, product *common.Product) (*Job, error) {
	job := &Job{Product: product, State: JobNOTSTARTED}

	outputDir := filepath.Join(d.OutputDir, sanitizeName(product.ID))
	if localPath, ok := d.resumed(product); ok {
		log.Logger(ctx).Sugar().Infof("%s already downloaded at %s", product, localPath)
		product.LocalPath = localPath
		job.OutputDir = localPath
		job.State = JobDONE
		return job, nil
	}

	pg, err := d.Manager.GetDownloadPlugin(product)
	if err != nil {
		return job, job.fail(fmt.Errorf("Download.%w", err))
	}
	cfg, _ := d.Manager.Provider(product.Provider)
	job.State = JobREQUESTED

	if err := d.makeAvailable(ctx, job, pg, cfg.Download); err != nil {
		return job, err
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return job, job.fail(fmt.Errorf("Download.%w", err))
	}
	fetched, err := d.fetch(ctx, job, pg, cfg.Download, outputDir)
	if err != nil {
		return job, err
	}

	job.State = JobEXTRACTING
	localPath, err := finalize(ctx, fetched, outputDir, cfg.Download)
	if err != nil {
		return job, job.fail(fmt.Errorf("Download.%w", err))
	}

	if err := d.writeMarker(product, localPath); err != nil {
		log.Logger(ctx).Sugar().Warnf("cannot persist resume marker for %s: %v", product, err)
	}
	product.LocalPath = localPath
	job.OutputDir = localPath
	job.State = JobDONE
	return job, nil
}

// makeAvailable brings the product ONLINE: OFFLINE products are ordered (at
// most once, the order id is remembered on the product), then polled together
// with STAGING products until the provider reports them retrievable.
func (d *Downloader) makeAvailable(ctx context.Context, job *Job, pg plugin.Download, cfg config.DownloadConfig) error {
	product := job.Product
	switch product.StorageStatus {
	case common.StorageONLINE:
		job.State = JobAVAILABLE
		return nil

	case common.StorageOFFLINE:
		if product.OrderID == "" {
			orderID, err := pg.Order(ctx, product)
			if err != nil {
				return job.fail(fmt.Errorf("makeAvailable[%s].%w", product.ID, err))
			}
			product.OrderID = orderID
			log.Logger(ctx).Sugar().Infof("%s ordered (order id %s)", product, orderID)
		}
		job.State = JobORDERED

	case common.StorageSTAGING:
		// retrieval already in progress, go straight to polling
	}

	job.State = JobPOLLING
	if err := d.poll(ctx, product, pg, cfg); err != nil {
		if _, ok := err.(service.NotAvailableError); ok {
			job.State = JobTIMEDOUT
			job.Err = err
			return err
		}
		return job.fail(err)
	}
	job.State = JobAVAILABLE
	return nil
}

// poll queries the storage status every PollInterval until the product is
// ONLINE or PollTimeout elapses.
func (d *Downloader) poll(ctx context.Context, product *common.Product, pg plugin.Download, cfg config.DownloadConfig) error {
	interval := time.Duration(cfg.PollInterval)
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := time.Duration(cfg.PollTimeout)
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := pg.Status(ctx, product)
		if err != nil {
			if service.Fatal(err) {
				return fmt.Errorf("poll[%s].%w", product.ID, err)
			}
			log.Logger(ctx).Sugar().Warnf("poll %s: %v", product, err)
		} else {
			product.StorageStatus = status
			if status == common.StorageONLINE {
				return nil
			}
			log.Logger(ctx).Sugar().Debugf("%s still %s", product, status)
		}

		if time.Now().After(deadline) {
			return service.NotAvailableError{Product: product.ID}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("poll[%s].%w", product.ID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// fetch downloads every location of the product (its assets, or the single
// download link) under dir and returns the local paths. Each location retries
// under exponential backoff; fatal errors short-circuit. With several assets
// a partial success is reported as a PartialFailure keyed by asset.
func (d *Downloader) fetch(ctx context.Context, job *Job, pg plugin.Download, cfg config.DownloadConfig, dir string) ([]string, error) {
	job.State = JobFETCHING
	product := job.Product

	locations := map[string]string{}
	if len(product.Assets) > 0 {
		for _, asset := range product.Assets {
			locations[asset.Key] = asset.Href
		}
	} else {
		locations[product.ID] = product.RemoteLocation()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var fetched []string
	failures := map[string]error{}
	for key, location := range locations {
		localPath, err := backoff.Retry(ctx, func() (string, error) {
			job.Attempts++
			localPath, err := pg.Fetch(ctx, product, location, dir, d.Progress)
			if err != nil && !service.Temporary(err) {
				return "", backoff.Permanent(err)
			}
			return localPath, err
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(uint(maxRetries)))
		if err != nil {
			failures[key] = err
			continue
		}
		fetched = append(fetched, localPath)
	}

	if len(failures) > 0 {
		if len(fetched) == 0 && len(locations) == 1 {
			for _, err := range failures {
				return nil, job.fail(fmt.Errorf("fetch[%s].%w", product.ID, err))
			}
		}
		return nil, job.fail(service.PartialFailure{Errors: failures})
	}
	job.State = JobFETCHED
	job.OutputDir = dir
	return fetched, nil
}

// resumed returns the recorded local path of an already-downloaded product.
// A marker whose target no longer exists is dropped.
func (d *Downloader) resumed(product *common.Product) (string, bool) {
	raw, err := os.ReadFile(d.markerPath(product))
	if err != nil {
		return "", false
	}
	localPath := strings.TrimSpace(string(raw))
	if _, err := os.Stat(localPath); err != nil {
		os.Remove(d.markerPath(product))
		return "", false
	}
	return localPath, true
}

func (d *Downloader) writeMarker(product *common.Product, localPath string) error {
	marker := d.markerPath(product)
	if err := os.MkdirAll(filepath.Dir(marker), 0755); err != nil {
		return err
	}
	return os.WriteFile(marker, []byte(localPath), 0644)
}

// markerPath keys the resume record on the provider-independent remote
// location, so the same product is never fetched twice across runs.
func (d *Downloader) markerPath(product *common.Product) string {
	return filepath.Join(d.OutputDir, ".downloaded", fmt.Sprintf("%x", md5.Sum([]byte(product.RemoteLocation()))))
}

// sanitizeName makes a product id safe as a directory name.
func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
