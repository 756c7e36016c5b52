package plugin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cavaliercoder/grab"
	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/mapping"
	"github.com/geowatch/eogate/service"
	"github.com/geowatch/eogate/service/log"
)

// newDownloadPlugin instantiates the download strategy declared by the provider.
func newDownloadPlugin(provider string, cfg config.ProviderConfig, auth Authentication, registry *mapping.Registry, mappingOf func(productType string) (*mapping.Compiled, error)) (Download, error) {
	switch cfg.Download.Type {
	case "", "http":
		return newHTTPDownload(provider, cfg.Download, auth, registry, mappingOf)
	case "ftp":
		return &ftpDownload{provider: provider, credentials: cfg.Credentials}, nil
	case "s3":
		return &s3Download{provider: provider, cfg: cfg.Download, credentials: cfg.Credentials}, nil
	}
	return nil, service.MisconfiguredError{Provider: provider, Reason: "unknown download plugin type " + cfg.Download.Type}
}

// httpDownload orders, polls and fetches over HTTP. Fetching goes through grab
// so partial files resume with byte ranges.
type httpDownload struct {
	provider  string
	cfg       config.DownloadConfig
	auth      Authentication
	registry  *mapping.Registry
	mappingOf func(productType string) (*mapping.Compiled, error)
	orderTmpl *mapping.Template
	pollTmpl  *mapping.Template
}

func newHTTPDownload(provider string, cfg config.DownloadConfig, auth Authentication, registry *mapping.Registry, mappingOf func(string) (*mapping.Compiled, error)) (*httpDownload, error) {
	d := &httpDownload{provider: provider, cfg: cfg, auth: auth, registry: registry, mappingOf: mappingOf}
	var err error
	if cfg.OrderTemplate != "" {
		if d.orderTmpl, err = mapping.ParseTemplate(cfg.OrderTemplate); err != nil {
			return nil, service.MisconfiguredError{Provider: provider, Reason: err.Error()}
		}
	}
	if cfg.PollTemplate != "" {
		if d.pollTmpl, err = mapping.ParseTemplate(cfg.PollTemplate); err != nil {
			return nil, service.MisconfiguredError{Provider: provider, Reason: err.Error()}
		}
	}
	for _, tmpl := range []*mapping.Template{d.orderTmpl, d.pollTmpl} {
		if tmpl == nil {
			continue
		}
		if err := tmpl.Check(registry); err != nil {
			return nil, service.MisconfiguredError{Provider: provider, Reason: err.Error()}
		}
	}
	return d, nil
}

func (d *httpDownload) Provider() string {
	return d.provider
}

// Order requests the retrieval of an OFFLINE product and returns the remote
// order id (the product id when the provider does not report one).
func (d *httpDownload) Order(ctx context.Context, product *common.Product) (string, error) {
	if d.orderTmpl == nil {
		return "", service.MisconfiguredError{Provider: d.provider, Reason: "offline product but no order_template"}
	}
	url, err := d.orderTmpl.Build(product.Properties, d.registry)
	if err != nil {
		return "", fmt.Errorf("Order.%w", err)
	}
	credential, err := d.auth.Authenticate(ctx)
	if err != nil {
		return "", fmt.Errorf("Order.%w", err)
	}

	var body []byte
	switch d.cfg.OrderMethod {
	case "", "GET":
		body, err = service.HTTPGet(ctx, url, credential.Apply)
	case "POST":
		body, err = service.HTTPPost(ctx, url, nil, credential.Apply)
	default:
		return "", service.MisconfiguredError{Provider: d.provider, Reason: "unknown order_method " + d.cfg.OrderMethod}
	}
	if err != nil {
		return "", service.MakeTemporary(fmt.Errorf("Order[%s].%w", product.ID, err))
	}

	if orderID := d.parseOrderID(product, body); orderID != "" {
		return orderID, nil
	}
	return product.ID, nil
}

func (d *httpDownload) parseOrderID(product *common.Product, body []byte) string {
	compiled, err := d.mappingOf(product.ProductType)
	if err != nil {
		return ""
	}
	doc, err := compiled.DecodeDocument(body)
	if err != nil {
		return ""
	}
	properties, err := compiled.ParseResult(doc)
	if err != nil {
		return ""
	}
	orderID, _ := properties[common.PropertyOrderID].(string)
	return orderID
}

// Status polls the retrieval status of an ordered product. Without a poll
// template the order is assumed to complete, the product reads back ONLINE.
func (d *httpDownload) Status(ctx context.Context, product *common.Product) (common.StorageStatus, error) {
	if d.pollTmpl == nil {
		return common.StorageONLINE, nil
	}
	bindings := make(map[string]interface{}, len(product.Properties)+1)
	for k, v := range product.Properties {
		bindings[k] = v
	}
	bindings[common.PropertyOrderID] = product.OrderID
	url, err := d.pollTmpl.Build(bindings, d.registry)
	if err != nil {
		return product.StorageStatus, fmt.Errorf("Status.%w", err)
	}
	credential, err := d.auth.Authenticate(ctx)
	if err != nil {
		return product.StorageStatus, fmt.Errorf("Status.%w", err)
	}
	body, err := service.HTTPGet(ctx, url, credential.Apply)
	if err != nil {
		return product.StorageStatus, service.MakeTemporary(fmt.Errorf("Status[%s].%w", product.ID, err))
	}

	compiled, err := d.mappingOf(product.ProductType)
	if err != nil {
		return product.StorageStatus, fmt.Errorf("Status.%w", err)
	}
	doc, err := compiled.DecodeDocument(body)
	if err != nil {
		return product.StorageStatus, service.MakeTemporary(fmt.Errorf("Status[%s].%w", product.ID, err))
	}
	properties, err := compiled.ParseResult(doc)
	if err != nil {
		return product.StorageStatus, service.MakeTemporary(fmt.Errorf("Status[%s].%w", product.ID, err))
	}
	if _, ok := properties[common.PropertyStorageStatus]; !ok {
		// provider did not report a status, still waiting
		return product.StorageStatus, nil
	}
	return mapping.CanonicalStorageStatus(properties[common.PropertyStorageStatus]), nil
}

// Fetch downloads one remote location under destDir. A partial file from an
// aborted run resumes where it stopped.
func (d *httpDownload) Fetch(ctx context.Context, product *common.Product, location, destDir string, progress *service.Progress) (string, error) {
	req, err := grab.NewRequest(destDir, location)
	if err != nil {
		return "", fmt.Errorf("Fetch.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)

	credential, err := d.auth.Authenticate(ctx)
	if err != nil {
		return "", fmt.Errorf("Fetch.%w", err)
	}
	credential.Apply(req.HTTPRequest)

	client := grab.NewClient()
	client.HTTPClient.CheckRedirect = checkRedirectAndCopyAuth
	resp := client.Do(req)

	watchProgress(ctx, d.provider+":"+product.ID, resp, progress, 0.05)

	if err := resp.Err(); err != nil {
		err = fmt.Errorf("Fetch[%s]: %w", req.URL(), err)
		if resp.HTTPResponse == nil {
			return "", service.MakeTemporary(err)
		}
		switch resp.HTTPResponse.StatusCode {
		case 202:
			return "", service.NotAvailableError{Product: product.ID}
		case 408, 429, 500, 501, 502, 503, 504:
			return "", service.MakeTemporary(err)
		default:
			return "", err
		}
	}
	return resp.Filename, nil
}

func checkRedirectAndCopyAuth(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if auth, ok := via[0].Header["Authorization"]; ok {
		req.Header.Add("Authorization", auth[0])
	}
	return nil
}

// watchProgress feeds the shared accumulator and logs every progressPeriod
// until the transfer completes.
func watchProgress(ctx context.Context, prefix string, resp *grab.Response, progress *service.Progress, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	sizeAdded := false
	logged, lastBytes, seconds := 0.0, int64(0), int64(0)
	for {
		select {
		case <-t.C:
			seconds++
			if !sizeAdded && resp.Size > 0 {
				progress.AddTotal(resp.Size)
				sizeAdded = true
			}
			if delta := resp.BytesComplete() - lastBytes; delta > 0 {
				progress.UpdateDelta(delta)
			}
			if resp.Progress() > logged {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", prefix, 100*resp.Progress(), service.FmtBytes(resp.BytesComplete()), service.FmtBytes(resp.Size), service.FmtBytes((resp.BytesComplete()-lastBytes)/seconds))
				seconds = 0
				logged += progressPeriod
			}
			lastBytes = resp.BytesComplete()

		case <-resp.Done:
			if delta := resp.BytesComplete() - lastBytes; delta > 0 {
				progress.UpdateDelta(delta)
			}
			return
		}
	}
}
