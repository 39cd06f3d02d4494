// Package proxy maintains the working set of outbound proxy addresses
// used to reach sources behind bot defenses. The pool is backed by the
// database so addresses survive restarts and burns are visible to every
// worker.
package proxy

import (
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/feedshed/feedshed/app/cfg"
	"github.com/feedshed/feedshed/app/database"
)

// sentinelCount is how many placeholder rows are inserted when discovery
// comes up empty. Sentinels make Get terminate instead of re-running
// discovery on every poll of a blocked source.
const sentinelCount = 20

type Pool struct {
	repo    database.ProxyRepository
	client  *http.Client
	listURL string
	pageURL string
}

func NewPool(repo database.ProxyRepository) *Pool {
	c := cfg.Get()
	return &Pool{
		repo:    repo,
		client:  &http.Client{Timeout: 30 * time.Second},
		listURL: c.ProxyListURL,
		pageURL: c.ProxyPageURL,
	}
}

// Get returns the oldest known proxy address, running one discovery pass
// first when the pool is empty. The result may be a sentinel; callers
// must check IsSentinel before routing traffic through it.
func (p *Pool) Get() (*database.WebProxy, error) {
	proxy, err := p.repo.GetFirstProxy()
	if err != nil {
		return nil, err
	}
	if proxy != nil {
		return proxy, nil
	}

	p.Discover()
	return p.repo.GetFirstProxy()
}

func IsSentinel(proxy *database.WebProxy) bool {
	return proxy != nil && proxy.Address == database.SentinelProxyAddress
}

// Burn retires a proxy observed to fail. The next poll of the affected
// source picks up a fresh address.
func (p *Pool) Burn(proxy *database.WebProxy) {
	if proxy == nil {
		return
	}
	slog.Info("burning proxy", "address", proxy.Address)
	if err := p.repo.DeleteProxy(proxy.ID); err != nil {
		slog.Warn("failed to delete proxy", "address", proxy.Address, "error", err)
	}
}

// Discover replenishes the pool from the raw proxy list, falling back to
// scraping the proxy listing page. Discovery failures are swallowed:
// when nothing at all is found, sentinel rows are inserted so polling of
// blocked sources keeps moving instead of looping on discovery.
func (p *Pool) Discover() {
	found := p.fromRawList()
	if found == 0 {
		found = p.fromListingPage()
	}

	count, err := p.repo.CountProxies()
	if err != nil {
		slog.Warn("failed to count proxies", "error", err)
		return
	}
	if count == 0 {
		slog.Info("no proxies found, inserting sentinels")
		for i := 0; i < sentinelCount; i++ {
			if err := p.repo.CreateProxy(database.SentinelProxyAddress); err != nil {
				slog.Warn("failed to insert sentinel proxy", "error", err)
				return
			}
		}
		return
	}

	slog.Info("proxy discovery finished", "found", found, "pool", count)
}

// fromRawList reads the plain-text proxy list: a four-line header
// followed by "host:port" lines, possibly with trailing annotations
// after a space.
func (p *Pool) fromRawList() int {
	resp, err := p.client.Get(p.listURL)
	if err != nil {
		slog.Warn("failed to fetch proxy list", "url", p.listURL, "error", err)
		return 0
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("proxy list returned unexpected status", "url", p.listURL, "status", resp.StatusCode)
		return 0
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Warn("failed to read proxy list", "url", p.listURL, "error", err)
		return 0
	}

	lines := strings.Split(string(body), "\n")
	if len(lines) > 4 {
		lines = lines[4:]
	} else {
		lines = nil
	}

	found := 0
	for _, line := range lines {
		if !strings.Contains(line, ":") {
			continue
		}
		address := strings.SplitN(strings.TrimSpace(line), " ", 2)[0]
		if address == "" {
			continue
		}
		if err := p.repo.CreateProxy(address); err != nil {
			slog.Warn("failed to store proxy", "address", address, "error", err)
			continue
		}
		found++
	}
	return found
}

var hostPortPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}:\d{2,5}\b`)

// fromListingPage scrapes host:port pairs out of an HTML proxy listing.
func (p *Pool) fromListingPage() int {
	if p.pageURL == "" {
		return 0
	}

	resp, err := p.client.Get(p.pageURL)
	if err != nil {
		slog.Warn("failed to fetch proxy page", "url", p.pageURL, "error", err)
		return 0
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		slog.Warn("failed to parse proxy page", "url", p.pageURL, "error", err)
		return 0
	}

	found := 0
	seen := make(map[string]bool)
	doc.Find("td, li, pre, code").Each(func(_ int, sel *goquery.Selection) {
		for _, address := range hostPortPattern.FindAllString(sel.Text(), -1) {
			if seen[address] {
				continue
			}
			seen[address] = true
			if err := p.repo.CreateProxy(address); err != nil {
				slog.Warn("failed to store proxy", "address", address, "error", err)
				continue
			}
			found++
		}
	})
	return found
}
