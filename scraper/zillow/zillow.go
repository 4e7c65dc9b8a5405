package zillow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"apartment-ranker/config"
	"apartment-ranker/models"
	"apartment-ranker/utils"
)

const (
	siteOrigin = "https://www.zillow.com"
	source     = "zillow"
)

// ErrNoSearchData is returned when a page carries no __NEXT_DATA__ payload,
// which usually means the request was served a captcha page.
var ErrNoSearchData = errors.New("zillow: no search data on page")

// Scraper drives a headless browser through Zillow rental search pages.
type Scraper struct {
	cfg        *config.Config
	logger     *utils.Logger
	visitedURL *utils.URLSet
	retry      *utils.RetryConfig
	throttle   *utils.Throttle
	now        func() time.Time
}

// New creates a ready-to-use Zillow Scraper.
func New(cfg *config.Config, logger *utils.Logger) *Scraper {
	return &Scraper{
		cfg:        cfg,
		logger:     logger,
		visitedURL: utils.NewURLSet(),
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
		throttle: utils.NewThrottle(cfg.RateLimitMs),
		now:      time.Now,
	}
}

// Scrape walks up to pages search result pages and returns the raw listings
// found, skipping URLs already seen. It stops early on an empty page.
func (s *Scraper) Scrape(ctx context.Context, pages int) ([]*models.RawListing, error) {
	if pages < 1 {
		pages = 1
	}
	s.logger.Info("[zillow] Starting scrape: %d pages from %s", pages, s.cfg.SearchURL)

	chromeBin := s.cfg.ChromeBin
	if chromeBin == "" {
		chromeBin = findChromeBinary()
	}
	s.logger.Info("[zillow] Using browser binary: %s", chromeBin)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if chromeBin != "" {
		opts = append(opts, chromedp.ExecPath(chromeBin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelBrowser()

	var listings []*models.RawListing
	for page := 1; page <= pages; page++ {
		if err := s.throttle.Wait(ctx); err != nil {
			return listings, err
		}

		pageURL := PageURL(s.cfg.SearchURL, page)
		s.logger.Info("[zillow] Scraping page %d: %s", page, pageURL)

		pageListings, err := s.scrapePage(browserCtx, pageURL, page)
		if err != nil {
			s.logger.Error("[zillow] Page %d failed: %v", page, err)
			if len(listings) == 0 {
				return nil, err
			}
			break
		}
		if len(pageListings) == 0 {
			s.logger.Warn("[zillow] Page %d returned 0 listings, stopping", page)
			break
		}

		listings = append(listings, pageListings...)
		s.logger.Info("[zillow] Page %d done, collected %d listings so far", page, len(listings))
	}

	s.logger.Info("[zillow] Scrape complete, total raw listings: %d", len(listings))
	return listings, nil
}

// scrapePage loads one search page, reads its embedded JSON and returns the
// listings not seen on earlier pages.
func (s *Scraper) scrapePage(browserCtx context.Context, pageURL string, pageNum int) ([]*models.RawListing, error) {
	var payload string

	err := s.retry.Do(browserCtx, fmt.Sprintf("scrape-page-%d", pageNum), func() error {
		tabCtx, cancel := chromedp.NewContext(browserCtx)
		defer cancel()

		tabCtx, cancelTimeout := context.WithTimeout(tabCtx, 60*time.Second)
		defer cancelTimeout()

		err := chromedp.Run(tabCtx,
			chromedp.Navigate(pageURL),
			chromedp.Sleep(4*time.Second),
			chromedp.Evaluate(`(function() {
				var el = document.getElementById('__NEXT_DATA__');
				return el ? el.textContent : '';
			})()`, &payload),
		)
		if err != nil {
			return fmt.Errorf("chromedp page scrape: %w", err)
		}
		if strings.TrimSpace(payload) == "" {
			return ErrNoSearchData
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	parsed, err := ParseSearchResults([]byte(payload), s.now())
	if err != nil {
		return nil, err
	}

	fresh := make([]*models.RawListing, 0, len(parsed))
	for _, l := range parsed {
		if !s.visitedURL.Add(l.URL) {
			s.logger.Debug("[zillow] Skipping duplicate: %s", l.URL)
			continue
		}
		fresh = append(fresh, l)
	}
	s.logger.Debug("[zillow] Page %d: %d results, %d new", pageNum, len(parsed), len(fresh))
	return fresh, nil
}

// PageURL returns the URL of the given 1-based search page.
func PageURL(base string, page int) string {
	if page <= 1 {
		return base
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return fmt.Sprintf("%s%d_p/", base, page)
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
