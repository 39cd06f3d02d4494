package feed

import (
	"fmt"
	"math/rand"
	"net/http"

	"github.com/feedshed/feedshed/app/cfg"
	"github.com/feedshed/feedshed/app/database"
)

// disguisedAgents are rotated for Cloudflare-protected sources, which
// reject anything that self-identifies as a bot.
var disguisedAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// Agent returns the User-Agent for one poll of src: an honest
// subscriber-count string normally, a random browser string when the
// source is behind Cloudflare.
func Agent(src *database.Source) string {
	if src.IsCloudflare {
		return disguisedAgents[rand.Intn(len(disguisedAgents))]
	}
	c := cfg.Get()
	return fmt.Sprintf("%s (+%s; Updater; %d subscribers)", c.UserAgent, c.ServerURL, src.NumSubs)
}

// BuildHeaders assembles the request headers for one poll. Conditional
// headers are attached only when validators are cached and the poll is
// not forced.
func BuildHeaders(src *database.Source, force bool) http.Header {
	h := http.Header{}
	h.Set("User-Agent", Agent(src))

	if force {
		return h
	}
	if src.ETag != "" {
		h.Set("If-None-Match", src.ETag)
	}
	if src.LastModified != "" {
		h.Set("If-Modified-Since", src.LastModified)
	}
	return h
}
