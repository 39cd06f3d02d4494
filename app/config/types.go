package config

// SourceConfig is one registry entry: the operator-declared identity of
// a pollable source. Everything else on a source is runtime state owned
// by the fetcher and scheduler.
type SourceConfig struct {
	Source   SourceInfo      `yaml:"source"`
	Scrape   *ScrapeSettings `yaml:"scrape"`
	Settings SourceSettings  `yaml:"settings"`
}

// SourceInfo contains basic source information
type SourceInfo struct {
	Name    string `yaml:"name"`
	FeedURL string `yaml:"feed_url"`
	SiteURL string `yaml:"site_url"`
}

// ScrapeSettings configures raw-HTML extraction for sources without a
// syndication feed. All four selectors are required when present; a
// selector may end in "@attr" to read an attribute instead of text.
type ScrapeSettings struct {
	Item  string `yaml:"item"`
	Link  string `yaml:"link"`
	Title string `yaml:"title"`
	Date  string `yaml:"date"`
}

// SourceSettings contains per-source processing settings
type SourceSettings struct {
	NumSubs        int  `yaml:"num_subs"`
	ExtractContent bool `yaml:"extract_content"`
}
