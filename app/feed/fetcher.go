package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/feedshed/feedshed/app/cfg"
	"github.com/feedshed/feedshed/app/database"
	"github.com/feedshed/feedshed/app/proxy"
)

const fetchTimeout = 20 * time.Second

// redirectPromotionAge is how long a source must keep bouncing to the
// same temporary-redirect target before the target is adopted as the
// feed URL.
const redirectPromotionAge = 60 * 24 * time.Hour

// validatorMaxAge is how stale a source's last success may get before a
// 304 response is taken as a hint that the cached validators are wedged
// and should be dropped.
const validatorMaxAge = 7 * 24 * time.Hour

// Fetcher runs one conditional GET per poll and applies the outcome to
// the source's scheduling and status state. Redirects are never followed
// implicitly; every redirect class has its own policy.
type Fetcher struct {
	sources  database.SourceRepository
	importer *Importer
	proxies  *proxy.Pool
	limiter  *rate.Limiter
}

func NewFetcher(sources database.SourceRepository, importer *Importer, proxies *proxy.Pool) *Fetcher {
	c := cfg.Get()
	return &Fetcher{
		sources:  sources,
		importer: importer,
		proxies:  proxies,
		limiter:  rate.NewLimiter(rate.Limit(c.FetchRate), 1),
	}
}

// Poll fetches src once, mutates its state per the outcome and persists
// it. force suppresses the conditional headers so a 200 with a full body
// is the expected result. Fetch-level failures are absorbed into source
// state; the returned error only reports persistence or context failure.
func (f *Fetcher) Poll(ctx context.Context, src *database.Source, force bool) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	now := time.Now().UTC()
	src.LastPolled = &now

	headers := BuildHeaders(src, force)

	var prx *database.WebProxy
	var transport http.RoundTripper
	if src.IsCloudflare {
		p, err := f.proxies.Get()
		if err != nil {
			slog.Warn("proxy lookup failed", "source", src.Slug, "error", err)
		} else if p != nil && !proxy.IsSentinel(p) {
			if u, perr := url.Parse("http://" + p.Address); perr == nil {
				prx = p
				transport = &http.Transport{Proxy: http.ProxyURL(u)}
			}
		}
	}

	slog.Info("fetching source", "source", src.Slug, "url", src.FeedURL, "proxied", prx != nil)

	resp, body, err := f.get(ctx, src.FeedURL, headers, transport, false)
	was302 := false

	if err != nil {
		src.StatusCode = 0
		if prx != nil {
			// The proxy is as likely at fault as the source. Burn it and
			// retry sooner on a fresh one instead of backing off.
			src.LastResult = "Proxy failed. Next retry will use new proxy"
			src.LastOutcome = database.OutcomeProxyFailure
			f.proxies.Burn(prx)
			src.Interval /= 2
		} else {
			src.LastResult = truncate("Fetch error: "+err.Error(), 255)
			src.LastOutcome = database.OutcomeNetworkError
			src.Interval += growServerError
		}
	} else {
		src.StatusCode = resp.StatusCode
		src.LastResult = "Unhandled Case"

		switch status := resp.StatusCode; {
		case status >= 200 && status < 300:
			// handled below, after the redirect cases had their chance
			// to replace resp

		case status == 304:
			src.Interval += growNotModified
			src.LastResult = "Not modified"
			src.LastOutcome = database.OutcomeNotModified
			// Validators that keep yielding 304 for over a week are
			// suspect; dropping them forces a full fetch next time.
			if src.LastSuccess != nil && now.Sub(*src.LastSuccess) > validatorMaxAge {
				src.LastResult = "Clearing etag/last modified due to lack of changes"
				src.ETag = ""
				src.LastModified = ""
			}
			src.LastSuccess = &now

		case status == 404:
			src.Interval += growServerError
			src.LastResult = "The feed could not be found"
			src.LastOutcome = database.OutcomeHTTPError

		case status == 403 || status == 410:
			f.handleBlocked(src, resp, body, prx)

		case status == 301 || status == 308:
			location := resp.Header.Get("Location")
			if location == "" {
				src.LastResult = "Feed has moved but no location provided"
			} else {
				src.FeedURL = resolveLocation(location, src.FeedURL)
				src.LastResult = "Moved"
				src.LastOutcome = database.OutcomeMoved
			}

		case status == 302 || status == 303 || status == 307:
			was302 = true
			resp, body = f.followTemporary(ctx, src, resp, headers, transport, now)

		case status < 200 || status >= 500:
			src.Interval += growServerError
			src.LastResult = fmt.Sprintf("Server error fetching feed (%d)", status)
			src.LastOutcome = database.OutcomeHTTPError

		case status >= 400:
			src.LastResult = fmt.Sprintf("Bad request (%d)", status)
			src.LastOutcome = database.OutcomeHTTPError
		}
	}

	// Separate check rather than a switch case: a followed temporary
	// redirect lands here with the replacement response.
	if resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if was302 {
			// Validators belong to the redirect target, not to the feed
			// URL they would be replayed against next poll.
			src.ETag = ""
			src.LastModified = ""
		} else {
			src.ETag = resp.Header.Get("ETag")
			src.LastModified = resp.Header.Get("Last-Modified")
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "Not Set"
		}

		ok, changed := f.importer.Import(src, body, contentType)
		switch {
		case ok && changed:
			src.Interval /= 2
			src.LastResult = "OK (updated)"
			src.LastOutcome = database.OutcomeOK
			src.LastChange = &now
		case ok:
			src.Interval += growUnchanged
			src.LastResult = "OK"
			src.LastOutcome = database.OutcomeOK
		default:
			// last_result and last_outcome were set by the importer
			src.Interval += growServerError
		}
	}

	src.Interval = ClampInterval(src.Interval)
	src.DuePoll = NextDuePoll(now, src.Interval)

	if err := f.sources.UpdateSource(src); err != nil {
		return fmt.Errorf("failed to save source after poll: %w", err)
	}

	slog.Info("polled source",
		"source", src.Slug,
		"status", src.StatusCode,
		"result", src.LastResult,
		"interval", src.Interval,
	)
	return nil
}

// handleBlocked interprets a 403 or 410. A Cloudflare-branded block
// escalates the anti-bot strategy instead of killing the source: first
// flag the source for proxying, then burn proxies that get blocked too.
// A plain 403/410 is recorded but the source stays live; these often
// recover without intervention.
func (f *Fetcher) handleBlocked(src *database.Source, resp *http.Response, body []byte, prx *database.WebProxy) {
	if !sniffCloudflare(resp, body) {
		src.LastResult = "Feed is no longer accessible."
		src.LastOutcome = database.OutcomeBlocked
		return
	}

	if src.IsCloudflare && prx != nil {
		src.LastResult = "Proxy worked but still blocked"
		src.LastOutcome = database.OutcomeProxyFailure
		f.proxies.Burn(prx)
		src.Interval /= 2
		return
	}

	src.IsCloudflare = true
	src.LastResult = "Blocked by Cloudflare"
	src.LastOutcome = database.OutcomeBlocked
}

func sniffCloudflare(resp *http.Response, body []byte) bool {
	if strings.Contains(strings.ToLower(resp.Header.Get("Server")), "cloudflare") {
		return true
	}
	return strings.Contains(string(body), "Cloudflare")
}

// followTemporary follows a 302/303/307 with a single redirect-enabled
// GET and tracks how long the source has been bouncing to the same
// target. Past redirectPromotionAge the target is promoted to the
// permanent feed URL. Returns the replacement response and body, or
// (nil, nil) when the follow failed.
func (f *Fetcher) followTemporary(ctx context.Context, src *database.Source, orig *http.Response, headers http.Header, transport http.RoundTripper, now time.Time) (*http.Response, []byte) {
	target := resolveLocation(orig.Header.Get("Location"), src.FeedURL)

	resp, body, err := f.get(ctx, target, headers, transport, true)
	if err != nil {
		src.LastResult = truncate("Failed Redirection to "+target+" "+err.Error(), 255)
		src.Interval += growRedirectFailure
		return nil, nil
	}

	src.StatusCode = resp.StatusCode

	if src.Last302URL == target && src.Last302Start != nil {
		if now.Sub(*src.Last302Start) > redirectPromotionAge {
			src.FeedURL = target
			src.Last302URL = ""
			src.Last302Start = nil
			src.LastResult = "Permanent Redirect to " + target
			src.LastOutcome = database.OutcomeMoved
		} else {
			src.LastResult = "Temporary Redirect to " + target + " since " + src.Last302Start.Format("2 January")
		}
	} else {
		src.Last302URL = target
		src.Last302Start = &now
		src.LastResult = "Temporary Redirect to " + target + " since " + now.Format("2 January")
	}

	return resp, body
}

func (f *Fetcher) get(ctx context.Context, rawURL string, headers http.Header, transport http.RoundTripper, followRedirects bool) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header = headers.Clone()

	client := &http.Client{Timeout: fetchTimeout}
	if transport != nil {
		client.Transport = transport
	}
	if !followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}
