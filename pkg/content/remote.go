package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	sgerrors "github.com/exploopio/streamguard/pkg/errors"
)

// RemoteFile is an entry of a remote directory listing.
type RemoteFile struct {
	Name        string
	Path        string
	DownloadURL string
}

// Remote is the online side of the content repository.
type Remote interface {
	// LatestVersion returns the newest release tag without its "v" prefix.
	LatestVersion(ctx context.Context) (string, error)

	// ProductDirs lists the product directory names.
	ProductDirs(ctx context.Context) ([]string, error)

	// ProfileFiles lists products/<product>/profiles.
	ProfileFiles(ctx context.Context, product string) ([]RemoteFile, error)

	// RawFile returns a repository file by path.
	RawFile(ctx context.Context, path string) ([]byte, error)

	// Download streams the body at an absolute URL into w.
	Download(ctx context.Context, rawURL string, w io.Writer) error
}

// GitHubRemote implements Remote against the GitHub REST API. All calls,
// including archive downloads, share one rate limiter.
type GitHubRemote struct {
	client  *github.Client
	http    *http.Client
	limiter *rate.Limiter
	owner   string
	repo    string
	branch  string
}

// NewGitHubRemote creates a remote for cfg.Owner/cfg.Repo.
func NewGitHubRemote(cfg Config) (*GitHubRemote, error) {
	apiHTTP := &http.Client{}
	if cfg.GitHubToken != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHubToken})
		apiHTTP = oauth2.NewClient(context.Background(), ts)
	}

	client := github.NewClient(apiHTTP)
	if cfg.APIBaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.APIBaseURL, "/") + "/")
		if err != nil {
			return nil, sgerrors.E(sgerrors.KindInvalidInput, "content.NewGitHubRemote", "invalid api base url", err)
		}
		client.BaseURL = base
	}

	rps := cfg.RequestsPerSecond
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	return &GitHubRemote{
		client:  client,
		http:    &http.Client{},
		limiter: rate.NewLimiter(limit, burst),
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  cfg.Branch,
	}, nil
}

func (r *GitHubRemote) wait(ctx context.Context, op string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return sgerrors.E(sgerrors.KindTimeout, op, err)
	}
	return nil
}

func (r *GitHubRemote) LatestVersion(ctx context.Context) (string, error) {
	const op = "content.LatestVersion"
	if err := r.wait(ctx, op); err != nil {
		return "", err
	}
	release, _, err := r.client.Repositories.GetLatestRelease(ctx, r.owner, r.repo)
	if err != nil {
		return "", classifyRemoteError(op, err)
	}
	tag := strings.TrimPrefix(release.GetTagName(), "v")
	if tag == "" {
		return "", sgerrors.E(sgerrors.KindTransientFetch, op, "latest release has no tag")
	}
	return tag, nil
}

func (r *GitHubRemote) list(ctx context.Context, op, path string) ([]*github.RepositoryContent, error) {
	if err := r.wait(ctx, op); err != nil {
		return nil, err
	}
	opts := &github.RepositoryContentGetOptions{Ref: r.branch}
	_, entries, _, err := r.client.Repositories.GetContents(ctx, r.owner, r.repo, path, opts)
	if err != nil {
		return nil, classifyRemoteError(op, err)
	}
	return entries, nil
}

func (r *GitHubRemote) ProductDirs(ctx context.Context) ([]string, error) {
	entries, err := r.list(ctx, "content.ProductDirs", "products")
	if err != nil {
		return nil, err
	}
	var products []string
	for _, e := range entries {
		if e.GetType() == "dir" && e.GetName() != "" {
			products = append(products, e.GetName())
		}
	}
	return products, nil
}

func (r *GitHubRemote) ProfileFiles(ctx context.Context, product string) ([]RemoteFile, error) {
	entries, err := r.list(ctx, "content.ProfileFiles", "products/"+product+"/profiles")
	if err != nil {
		return nil, err
	}
	var files []RemoteFile
	for _, e := range entries {
		if !strings.HasSuffix(e.GetName(), ".profile") || e.GetDownloadURL() == "" {
			continue
		}
		files = append(files, RemoteFile{
			Name:        e.GetName(),
			Path:        e.GetPath(),
			DownloadURL: e.GetDownloadURL(),
		})
	}
	return files, nil
}

func (r *GitHubRemote) RawFile(ctx context.Context, path string) ([]byte, error) {
	const op = "content.RawFile"
	if err := r.wait(ctx, op); err != nil {
		return nil, err
	}
	opts := &github.RepositoryContentGetOptions{Ref: r.branch}
	file, _, _, err := r.client.Repositories.GetContents(ctx, r.owner, r.repo, path, opts)
	if err != nil {
		return nil, classifyRemoteError(op, err)
	}
	if file == nil {
		return nil, sgerrors.E(sgerrors.KindNotFound, op, fmt.Sprintf("%s is a directory", path))
	}
	text, err := file.GetContent()
	if err != nil {
		return nil, sgerrors.E(sgerrors.KindParse, op, err)
	}
	return []byte(text), nil
}

// Download fetches rawURL without API credentials.
func (r *GitHubRemote) Download(ctx context.Context, rawURL string, w io.Writer) error {
	const op = "content.Download"
	if err := r.wait(ctx, op); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return sgerrors.E(sgerrors.KindInvalidInput, op, err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return classifyRemoteError(op, err)
	}
	defer resp.Body.Close()

	if err := statusError(op, resp.StatusCode); err != nil {
		return err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return sgerrors.E(sgerrors.KindTransientFetch, op, "read body", err)
	}
	return nil
}

func statusError(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return sgerrors.E(sgerrors.KindRateLimit, op, fmt.Sprintf("http %d", status))
	case status == http.StatusNotFound:
		return sgerrors.E(sgerrors.KindNotFound, op, "http 404")
	default:
		return sgerrors.E(sgerrors.KindTransientFetch, op, fmt.Sprintf("http %d", status))
	}
}

// classifyRemoteError maps client errors onto the error taxonomy. 403 and
// 429 are rate limits; everything else network-shaped is a transient fetch.
func classifyRemoteError(op string, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse

	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return sgerrors.E(sgerrors.KindRateLimit, op, err)
	case errors.As(err, &respErr) && respErr.Response != nil:
		if se := statusError(op, respErr.Response.StatusCode); se != nil {
			return sgerrors.E(sgerrors.GetKind(se), op, err)
		}
		return sgerrors.E(sgerrors.KindTransientFetch, op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return sgerrors.E(sgerrors.KindTimeout, op, err)
	default:
		return sgerrors.E(sgerrors.KindTransientFetch, op, err)
	}
}

var _ Remote = (*GitHubRemote)(nil)
