package breakdown

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/golang/glog"
)

// CacheThumbnailFetcher downloads record thumbnails into a local cache
// directory, addressed by the hash of the thumbnail url so repeated fetches
// are served from disk.
type CacheThumbnailFetcher struct {
	cacheDir string

	client *http.Client
}

func NewCacheThumbnailFetcher(cacheDir string) *CacheThumbnailFetcher {
	return &CacheThumbnailFetcher{
		cacheDir: cacheDir,
		client:   defaultClient(),
	}
}

func (self *CacheThumbnailFetcher) cachePath(thumbnailUrl string) string {
	hash := sha256.Sum256([]byte(thumbnailUrl))
	name := hex.EncodeToString(hash[:])
	if parsed, err := url.Parse(thumbnailUrl); err == nil {
		if ext := filepath.Ext(parsed.Path); ext != "" {
			name += ext
		}
	}
	return filepath.Join(self.cacheDir, name)
}

func (self *CacheThumbnailFetcher) Fetch(ctx context.Context, record Record) (string, error) {
	thumbnailUrl := record.ThumbnailUrl()
	if thumbnailUrl == "" {
		return "", fmt.Errorf("Record has no thumbnail.")
	}

	cachePath := self.cachePath(thumbnailUrl)
	if _, err := os.Stat(cachePath); err == nil {
		glog.V(2).Infof("[thumb]cache hit %s\n", cachePath)
		return cachePath, nil
	}

	if err := os.MkdirAll(self.cacheDir, 0755); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", thumbnailUrl, nil)
	if err != nil {
		return "", err
	}
	r, err := self.client.Do(req)
	if err != nil {
		return "", err
	}
	defer r.Body.Close()

	if http.StatusOK != r.StatusCode {
		return "", fmt.Errorf("Thumbnail fetch error status %d.", r.StatusCode)
	}

	// write to a temp file then rename so a canceled fetch never leaves a
	// partial cache entry
	tempFile, err := os.CreateTemp(self.cacheDir, ".thumb-*")
	if err != nil {
		return "", err
	}
	tempPath := tempFile.Name()
	if _, err := io.Copy(tempFile, r.Body); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return "", err
	}
	if err := tempFile.Close(); err != nil {
		os.Remove(tempPath)
		return "", err
	}
	if err := os.Rename(tempPath, cachePath); err != nil {
		os.Remove(tempPath)
		return "", err
	}

	glog.V(1).Infof("[thumb]fetched %s\n", cachePath)
	return cachePath, nil
}
