package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/slate-tools/pkg/config"
	"github.com/sidkik/slate-tools/pkg/errors"
)

const (
	// APIVersion is the version of the theme API used for uploads.
	APIVersion = "2024-01"

	// accessTokenHeader authenticates requests to the theme API.
	accessTokenHeader = "X-Shopify-Access-Token"

	// publishedRole is the role of the theme that's live on the store.
	publishedRole = "main"

	// maxRateLimitRetries is how many times a rate limited upload is retried.
	maxRateLimitRetries = 3

	// maxErrorBodySize is how much of an error response is kept in an
	// UploadError.
	maxErrorBodySize = 4096
)

// retryAfter returns how long to wait before retrying a rate limited
// request. It's overridden in the tests.
var retryAfter = func(header string) time.Duration {
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 2 * time.Second
}

// ThemeClient uploads files through the theme asset API.
type ThemeClient struct {
	fs       afero.Fs
	distDir  string
	themeID  string
	password string
	baseURL  string

	httpClient *http.Client
	log        *logrus.Logger
}

type asset struct {
	Key        string `json:"key"`
	Value      string `json:"value,omitempty"`
	Attachment string `json:"attachment,omitempty"`
}

// MarshalJSON always sends `value` for text assets. The API rejects assets
// that have neither a value nor an attachment, which would otherwise happen
// for empty files.
func (a asset) MarshalJSON() ([]byte, error) {
	if a.Attachment != "" {
		return json.Marshal(struct {
			Key        string `json:"key"`
			Attachment string `json:"attachment"`
		}{a.Key, a.Attachment})
	}
	return json.Marshal(struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}{a.Key, a.Value})
}

type assetRequest struct {
	Asset asset `json:"asset"`
}

type themeResponse struct {
	Theme struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"theme"`
}

// NewThemeClient creates a client that uploads the files in `distDir` to the
// theme configured by `env`.
func NewThemeClient(fs afero.Fs, distDir string, env config.Environment,
	logger *logrus.Logger) (*ThemeClient, error) {

	timeout, err := env.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	return &ThemeClient{
		fs:         fs,
		distDir:    distDir,
		themeID:    env.ThemeID,
		password:   env.Password,
		baseURL:    fmt.Sprintf("https://%s/admin/api/%s", env.Store, APIVersion),
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}, nil
}

// Sync uploads each file as a theme asset.
func (c *ThemeClient) Sync(ctx context.Context, files []string) error {
	return uploadAll(ctx, files, c.upload)
}

func (c *ThemeClient) upload(ctx context.Context, key string) error {
	contents, err := readFile(c.fs, c.distDir, key)
	if err != nil {
		return err
	}

	body, err := json.Marshal(assetRequest{Asset: newAsset(key, contents)})
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	url := fmt.Sprintf("%s/themes/%s/assets.json", c.baseURL, c.themeID)
	for attempt := 0; ; attempt++ {
		resp, err := c.do(ctx, http.MethodPut, url, body)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRateLimitRetries {
			wait := retryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()

			c.log.WithField("key", key).WithField("wait", wait).Debug(
				"Rate limited by the theme API. Retrying.")
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = checkResponse(key, resp)
		resp.Body.Close()
		if err != nil {
			return err
		}

		c.log.WithField("key", key).Debug("Uploaded asset")
		return nil
	}
}

// IsPublished returns whether the theme is the store's live theme.
func (c *ThemeClient) IsPublished(ctx context.Context) (bool, error) {
	url := fmt.Sprintf("%s/themes/%s.json", c.baseURL, c.themeID)
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if err := checkResponse(fmt.Sprintf("themes/%s", c.themeID), resp); err != nil {
		return false, errors.WithContext(err, "get theme")
	}

	var theme themeResponse
	if err := json.NewDecoder(resp.Body).Decode(&theme); err != nil {
		return false, errors.WithContext(err, "decode theme")
	}
	return theme.Theme.Role == publishedRole, nil
}

// Close releases idle connections.
func (c *ThemeClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *ThemeClient) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, errors.WithContext(err, "new request")
	}
	req = req.WithContext(ctx)
	req.Header.Set(accessTokenHeader, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WithContext(err, method)
	}
	return resp, nil
}

// newAsset encodes the file as text if possible, and otherwise as a base64
// attachment.
func newAsset(key string, contents []byte) asset {
	if utf8.Valid(contents) && !bytes.ContainsRune(contents, 0) {
		return asset{Key: key, Value: string(contents)}
	}
	return asset{Key: key, Attachment: base64.StdEncoding.EncodeToString(contents)}
}

func checkResponse(key string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := ioutil.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return UploadError{
		Key:    key,
		Status: resp.StatusCode,
		Body:   string(bytes.TrimSpace(body)),
	}
}
