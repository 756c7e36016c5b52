package download_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"time"

	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/download"
	"github.com/geowatch/eogate/interface/plugin"
	"github.com/geowatch/eogate/mapping"
	"github.com/geowatch/eogate/service"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Download lifecycle", func() {
	var (
		ctx        context.Context
		server     *httptest.Server
		downloader *download.Downloader
		available  atomic.Bool
		outputDir  string
	)

	provider := func(dl config.DownloadConfig) map[string]config.ProviderConfig {
		return map[string]config.ProviderConfig{
			"mock": {
				Search:   config.SearchConfig{Endpoint: "http://unused", ResultsPath: "$.features[*]"},
				Download: dl,
				Metadata: mapping.Table{
					"id":            {Path: "$.id"},
					"storageStatus": {Path: "$.status#get_group_name((?P<ONLINE>done)|(?P<STAGING>running))"},
				},
				ProductTypes: map[string]config.ProductType{"S2_MSI_L1C": {}},
			},
		}
	}

	product := func(id string, status common.StorageStatus) *common.Product {
		return &common.Product{
			ID:          id,
			Provider:    "mock",
			ProductType: "S2_MSI_L1C",
			Properties: map[string]interface{}{
				common.PropertyDownloadLink: server.URL + "/granule.bin",
				"pollLink":                  server.URL + "/poll",
			},
			StorageStatus: status,
		}
	}

	build := func(dl config.DownloadConfig) {
		m := plugin.NewManager(mapping.NewRegistry())
		Expect(m.Rebuild(provider(dl))).To(BeEmpty())
		downloader = &download.Downloader{Manager: m, OutputDir: outputDir, Workers: 1}
	}

	BeforeEach(func() {
		ctx = context.Background()
		available.Store(false)
		var err error
		outputDir, err = os.MkdirTemp("", "eogate-test")
		Expect(err).NotTo(HaveOccurred())
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/poll":
				if available.Load() {
					fmt.Fprint(w, `{"status": "done"}`)
				} else {
					fmt.Fprint(w, `{"status": "running"}`)
				}
			case "/granule.bin":
				fmt.Fprint(w, "payload")
			default:
				http.NotFound(w, r)
			}
		}))
	})

	AfterEach(func() {
		server.Close()
		os.RemoveAll(outputDir)
	})

	It("completes an online product", func() {
		build(config.DownloadConfig{})
		job, err := downloader.Download(ctx, product("S2A_1", common.StorageONLINE))
		Expect(err).NotTo(HaveOccurred())
		Expect(job.State).To(Equal(download.JobDONE))
		Expect(job.OutputDir).To(BeARegularFile())
	})

	It("waits for a staging product to come online", func() {
		build(config.DownloadConfig{
			PollTemplate: "{pollLink}",
			PollInterval: config.Duration(5 * time.Millisecond),
			PollTimeout:  config.Duration(2 * time.Second),
		})
		go func() {
			time.Sleep(30 * time.Millisecond)
			available.Store(true)
		}()
		job, err := downloader.Download(ctx, product("S2A_2", common.StorageSTAGING))
		Expect(err).NotTo(HaveOccurred())
		Expect(job.State).To(Equal(download.JobDONE))
	})

	It("times out on a product that never comes online", func() {
		build(config.DownloadConfig{
			PollTemplate: "{pollLink}",
			PollInterval: config.Duration(5 * time.Millisecond),
			PollTimeout:  config.Duration(25 * time.Millisecond),
		})
		job, err := downloader.Download(ctx, product("S2A_3", common.StorageSTAGING))
		Expect(err).To(HaveOccurred())
		Expect(service.Temporary(err)).To(BeTrue())
		Expect(job.State).To(Equal(download.JobTIMEDOUT))
	})

	It("fails an offline product without an order template", func() {
		build(config.DownloadConfig{})
		job, err := downloader.Download(ctx, product("S2A_4", common.StorageOFFLINE))
		Expect(err).To(HaveOccurred())
		Expect(job.State).To(Equal(download.JobFAILED))
	})
})
