package danbooru

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"boorubot/pkg/apperr"
	"boorubot/pkg/config"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const (
	postsSegment = "posts"
	postPath     = "/posts/{id}.json"
)

// Post is the subset of Danbooru post metadata the relay needs.
type Post struct {
	ID      string
	FileURL string
	Tags    []string
}

// Client fetches post metadata from the Danbooru JSON API.
type Client struct {
	http *resty.Client
	log  *slog.Logger
}

// NewClient builds a metadata client. When httpClient is nil a default client is used.
func NewClient(cfg config.DanbooruConfig, httpClient *http.Client, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	rc := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{log: log.With("component", "danbooru.http")})
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	if ua := strings.TrimSpace(cfg.UserAgent); ua != "" {
		rc.SetHeader("User-Agent", ua)
	}

	return &Client{
		http: rc,
		log:  log.With("component", "danbooru.client"),
	}
}

// ExtractPostID returns the post identifier from a post page URL such as
// https://danbooru.donmai.us/posts/4963030?q=tag. The identifier is returned
// verbatim; query and fragment are ignored.
func ExtractPostID(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", apperr.Wrap(apperr.KindMalformedURL, "parse url", err)
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != postsSegment {
		return "", apperr.New(apperr.KindMalformedURL, "expected path /posts/<id>")
	}

	return parts[1], nil
}

// FetchPost requests /posts/{id}.json. Every failure, including transport
// errors and undecodable bodies, is reported as an upstream error.
func (c *Client) FetchPost(ctx context.Context, id string) (Post, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get(postPath)
	if err != nil {
		return Post{}, apperr.Wrap(apperr.KindUpstream, "request post "+id, err)
	}

	if resp.StatusCode() != http.StatusOK {
		c.log.Error("Danbooru API returned unexpected status", "post_id", id, "status", resp.StatusCode())
		return Post{}, apperr.Upstream(resp.StatusCode(), fmt.Sprintf("post %s: status %d", id, resp.StatusCode()))
	}

	post, err := decodePost(resp.Body())
	if err != nil {
		return Post{}, err
	}
	post.ID = id

	c.log.Debug("Fetched post metadata", "post_id", id, "tags", len(post.Tags), "has_file", post.FileURL != "")
	return post, nil
}

func decodePost(body []byte) (Post, error) {
	if !gjson.ValidBytes(body) {
		return Post{}, apperr.New(apperr.KindUpstream, "invalid json body")
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Post{}, apperr.New(apperr.KindUpstream, "json body is not an object")
	}

	return Post{
		FileURL: strings.TrimSpace(root.Get("file_url").String()),
		Tags:    strings.Fields(root.Get("tag_string").String()),
	}, nil
}

// restyLogger routes resty's printf-style diagnostics into slog.
type restyLogger struct {
	log *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
