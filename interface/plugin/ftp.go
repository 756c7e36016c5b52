package plugin

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	neturl "net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/geowatch/eogate/common"
	"github.com/geowatch/eogate/config"
	"github.com/geowatch/eogate/service"
	"github.com/jlaffaye/ftp"
)

// ftpDownload fetches products hosted on an FTP server. FTP products are
// always ONLINE: there is no ordering nor polling.
type ftpDownload struct {
	provider    string
	credentials config.Credentials
}

func (d *ftpDownload) Provider() string {
	return d.provider
}

func (d *ftpDownload) Order(context.Context, *common.Product) (string, error) {
	return "", service.MakeFatal(fmt.Errorf("ftpDownload[%s]: ordering not supported", d.provider))
}

func (d *ftpDownload) Status(_ context.Context, product *common.Product) (common.StorageStatus, error) {
	return common.StorageONLINE, nil
}

// Fetch downloads one ftp://host[:port]/path location into destDir.
func (d *ftpDownload) Fetch(ctx context.Context, product *common.Product, location, destDir string, progress *service.Progress) (string, error) {
	host, remotePath, useTLS, err := splitFTPLocation(location)
	if err != nil {
		return "", fmt.Errorf("Fetch.%w", err)
	}

	ftpOption := []ftp.DialOption{ftp.DialWithContext(ctx), ftp.DialWithTimeout(5 * time.Second)}
	if useTLS {
		ftpOption = append(ftpOption, ftp.DialWithTLS(&tls.Config{InsecureSkipVerify: true}))
	}
	c, err := ftp.Dial(host, ftpOption...)
	if err != nil {
		return "", service.MakeTemporary(fmt.Errorf("Fetch.Dial: %w", err))
	}
	defer c.Quit()

	user, pword := d.credentials.Username, d.credentials.Password
	if user == "" {
		user, pword = "anonymous", "anonymous"
	}
	if err = c.Login(user, pword); err != nil {
		return "", service.AuthenticationError{Provider: d.provider, Reason: err.Error()}
	}

	if size, err := c.FileSize(remotePath); err == nil {
		progress.AddTotal(size)
	}

	r, err := c.Retr(remotePath)
	if err != nil {
		return "", service.MakeTemporary(fmt.Errorf("Fetch.Retr: %w", err))
	}
	defer r.Close()

	localPath := filepath.Join(destDir, path.Base(remotePath))
	destFile, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("Fetch.Create: %w", err)
	}
	defer destFile.Close()

	if _, err = io.Copy(destFile, io.TeeReader(r, &writeCounter{progress: progress})); err != nil {
		os.Remove(localPath)
		return "", service.MakeTemporary(fmt.Errorf("Fetch.Copy: %w", err))
	}
	return localPath, nil
}

// splitFTPLocation splits ftp://host[:port]/path. Port 990 implies TLS.
func splitFTPLocation(location string) (host, remotePath string, useTLS bool, err error) {
	u, err := neturl.Parse(location)
	if err != nil || u.Host == "" {
		return "", "", false, fmt.Errorf("splitFTPLocation: invalid location %q", location)
	}
	host = u.Host
	if !strings.Contains(host, ":") {
		host += ":21"
	}
	return host, strings.TrimPrefix(u.Path, "/"), u.Port() == "990", nil
}

// writeCounter feeds the shared progress accumulator, one write at a time.
type writeCounter struct {
	progress *service.Progress
}

func (wc *writeCounter) Write(p []byte) (int, error) {
	wc.progress.UpdateDelta(int64(len(p)))
	return len(p), nil
}
