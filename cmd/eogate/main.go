package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/araddon/dateparse"
	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/download"
	"github.com/geowatch/eogate/interface/plugin"
	"github.com/geowatch/eogate/mapping"
	"github.com/geowatch/eogate/search"
	"github.com/geowatch/eogate/service"
	"github.com/geowatch/eogate/service/log"
	"github.com/go-spatial/geom"
	"go.uber.org/zap"
)

type appConfig struct {
	ConfigFiles []string

	ProductType string
	Provider    string
	Start       string
	End         string
	BBox        string
	Query       string
	PageSize    int
	MaxPages    int

	Out       string
	From      string
	Download  bool
	OutputDir string
	Workers   int

	Debug bool
}

func newAppConfig() (*appConfig, error) {
	config := appConfig{}
	configFiles := flag.String("config", "", "comma-separated provider catalog files or http(s) URLs, merged in order (later layers override earlier ones)")
	flag.BoolVar(&config.Debug, "debug", false, "verbose development logging")

	// Search
	flag.StringVar(&config.ProductType, "product-type", "", "canonical product type to search (guessed from the catalog when empty)")
	flag.StringVar(&config.Provider, "provider", "", "force the search on a single provider, bypassing priorities")
	flag.StringVar(&config.Start, "start", "", "start of the sensing period (most date formats accepted)")
	flag.StringVar(&config.End, "end", "", "end of the sensing period")
	flag.StringVar(&config.BBox, "bbox", "", "search extent as minLon,minLat,maxLon,maxLat")
	flag.StringVar(&config.Query, "query", "", "extra provider-vocabulary parameters as key=value comma-separated")
	flag.IntVar(&config.PageSize, "page-size", 0, "results per page (provider default when 0)")
	flag.IntVar(&config.MaxPages, "max-pages", 0, "cap on the fetched pages (provider max_pages, then 50, when 0)")

	// Results
	flag.StringVar(&config.Out, "out", "", "write the search results to this geojson file")
	flag.StringVar(&config.From, "from", "", "download the products of this geojson file instead of searching")

	// Download
	flag.BoolVar(&config.Download, "download", false, "download the products found")
	flag.StringVar(&config.OutputDir, "output-dir", "", "download destination (overrides the configured output_dir)")
	flag.IntVar(&config.Workers, "workers", 0, "concurrent downloads (configured value, then 2, when 0)")

	flag.Parse()

	if *configFiles == "" {
		return nil, fmt.Errorf("missing config flag")
	}
	config.ConfigFiles = strings.Split(*configFiles, ",")
	if config.From == "" && config.ProductType == "" && config.Provider == "" && config.Query == "" {
		return nil, fmt.Errorf("missing product-type flag (or provider/query to guess from)")
	}
	return &config, nil
}

func (c *appConfig) criteria() (common.SearchCriteria, error) {
	criteria := common.SearchCriteria{
		ProductType: c.ProductType,
		Provider:    c.Provider,
		PageSize:    c.PageSize,
	}
	var err error
	if c.Start != "" {
		if criteria.StartTime, err = dateparse.ParseAny(c.Start); err != nil {
			return criteria, fmt.Errorf("criteria[start]: %w", err)
		}
	}
	if c.End != "" {
		if criteria.EndTime, err = dateparse.ParseAny(c.End); err != nil {
			return criteria, fmt.Errorf("criteria[end]: %w", err)
		}
	}
	if c.BBox != "" {
		if criteria.Geometry, err = parseBBox(c.BBox); err != nil {
			return criteria, fmt.Errorf("criteria[bbox]: %w", err)
		}
	}
	if c.Query != "" {
		criteria.Extra = map[string]interface{}{}
		for _, kv := range strings.Split(c.Query, ",") {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return criteria, fmt.Errorf("criteria[query]: malformed parameter %q", kv)
			}
			criteria.Extra[parts[0]] = parts[1]
		}
		if c.ProductType == "" {
			// without an explicit type the parameters also drive the guessing
			criteria.FreeText = map[string]string{}
			for _, kv := range strings.Split(c.Query, ",") {
				parts := strings.SplitN(kv, "=", 2)
				criteria.FreeText[parts[0]] = parts[1]
			}
		}
	}
	return criteria, nil
}

func parseBBox(s string) (geom.Geometry, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("expected minLon,minLat,maxLon,maxLat")
	}
	c := make([]float64, 4)
	for i, part := range parts {
		var err error
		if c[i], err = strconv.ParseFloat(strings.TrimSpace(part), 64); err != nil {
			return nil, err
		}
	}
	return geom.Polygon{{{c[0], c[1]}, {c[2], c[1]}, {c[2], c[3]}, {c[0], c[3]}, {c[0], c[1]}}}, nil
}

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	appConfig, err := newAppConfig()
	if err != nil {
		return err
	}
	if appConfig.Debug {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("run.%w", err)
		}
		log.SetDefault(logger)
	}

	catalog, err := config.Load(appConfig.ConfigFiles...)
	if err != nil {
		return fmt.Errorf("run.%w", err)
	}
	for provider, err := range catalog.Validate() {
		log.Logger(ctx).Sugar().Warnf("provider %s disabled: %v", provider, err)
	}

	manager := plugin.NewManager(mapping.NewRegistry())
	for provider, err := range manager.Rebuild(catalog.Providers) {
		log.Logger(ctx).Sugar().Warnf("provider %s disabled: %v", provider, err)
	}

	var result *search.Result
	if appConfig.From != "" {
		if result, err = search.Deserialize(appConfig.From); err != nil {
			return fmt.Errorf("run.%w", err)
		}
		log.Logger(ctx).Sugar().Infof("%d products loaded from %s", len(result.Products), appConfig.From)
	} else {
		criteria, err := appConfig.criteria()
		if err != nil {
			return fmt.Errorf("run.%w", err)
		}
		orchestrator := &search.Orchestrator{Manager: manager, Catalog: catalog, MaxPages: appConfig.MaxPages}
		if result, err = orchestrator.SearchAll(ctx, criteria); err != nil {
			return fmt.Errorf("run.%w", err)
		}
		for provider, err := range result.Errors {
			log.Logger(ctx).Sugar().Warnf("provider %s failed: %v", provider, err)
		}
		log.Logger(ctx).Sugar().Infof("%d products found", len(result.Products))
	}

	if appConfig.Out != "" {
		if err := result.Serialize(appConfig.Out); err != nil {
			return fmt.Errorf("run.%w", err)
		}
		log.Logger(ctx).Sugar().Infof("results written to %s", appConfig.Out)
	}

	if !appConfig.Download {
		return nil
	}

	outputDir := appConfig.OutputDir
	if outputDir == "" {
		outputDir = catalog.Download.OutputDir
	}
	if outputDir == "" {
		return fmt.Errorf("missing output-dir flag (or download.output_dir in the catalog)")
	}
	workers := appConfig.Workers
	if workers == 0 {
		workers = catalog.Download.Workers
	}

	downloader := &download.Downloader{
		Manager:   manager,
		OutputDir: outputDir,
		Workers:   workers,
		Progress:  service.NewProgress(0),
	}
	batch, err := downloader.DownloadAll(ctx, result.Products)
	if batch != nil {
		log.Logger(ctx).Sugar().Infof("%d downloaded, %d skipped, %d failed",
			len(batch.Succeeded), len(batch.Skipped), len(batch.Failed))
	}
	if err != nil {
		return fmt.Errorf("run.%w", err)
	}
	return nil
}
