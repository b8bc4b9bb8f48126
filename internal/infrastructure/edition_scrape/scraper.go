package edition_scrape

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/davarch/aerotiles/internal/domain"
	"go.uber.org/zap"
)

var editionDate = regexp.MustCompile(`\b(\d{2}-\d{2}-\d{4})\b`)

// Scraper finds chart edition dates on the FAA digital products page.
type Scraper struct {
	client *http.Client
	log    *zap.Logger
}

func New(l *zap.Logger, timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Scraper{client: &http.Client{Timeout: timeout}, log: l}
}

// Discover returns every distinct MM-DD-YYYY date found in the page's links
// and text, ascending.
func (s *Scraper) Discover(ctx context.Context, pageURL string) ([]time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", pageURL, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: status code %d", pageURL, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}

	seen := map[time.Time]bool{}
	collect := func(text string) {
		for _, m := range editionDate.FindAllStringSubmatch(text, -1) {
			d, err := domain.ParseDate(m[1])
			if err != nil {
				continue
			}
			seen[d] = true
		}
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		collect(href)
	})
	collect(doc.Find("body").Text())

	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })

	s.log.Info("editions discovered", zap.String("page", pageURL), zap.Int("dates", len(out)))
	return out, nil
}

// NewDates returns the discovered dates the calendar does not hold yet.
func NewDates(cal domain.Calendar, found []time.Time) []time.Time {
	have := map[time.Time]bool{}
	for _, d := range cal.Dates() {
		have[d] = true
	}
	var out []time.Time
	for _, d := range found {
		if !have[d] {
			out = append(out, d)
		}
	}
	return out
}
