package provider

import (
	"context"
	"io"
	"mime"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/affiliate-outreach/internal/model"
	"github.com/sells-group/affiliate-outreach/internal/resilience"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	assetSuffix  = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg"}
	contactPaths = []string{"", "/contact", "/about"}
)

// WebsiteProvider scrapes the affiliate's own site for published addresses.
// It is free and usually the last resort.
type WebsiteProvider struct {
	http *http.Client
	// base replaces "https://<domain>" when set.
	base string
}

// NewWebsiteProvider creates a website provider with the given request timeout.
func NewWebsiteProvider(timeout time.Duration) *WebsiteProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebsiteProvider{http: &http.Client{Timeout: timeout}}
}

func (p *WebsiteProvider) Name() string      { return "website" }
func (p *WebsiteProvider) UnitCost() float64 { return 0 }

// Lookup fetches the home, contact and about pages and collects mailto links
// and visible addresses. Addresses on the affiliate's own domain sort first.
func (p *WebsiteProvider) Lookup(ctx context.Context, req Request) (*Result, error) {
	root := p.base
	if root == "" {
		root = "https://" + req.Domain
	}

	found := make(map[string]bool)
	var fetched int
	var lastErr error
	for _, path := range contactPaths {
		emails, err := p.scrape(ctx, root+path)
		if err != nil {
			zap.L().Debug("website: page fetch failed",
				zap.String("url", root+path),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		fetched++
		for _, e := range emails {
			found[e] = true
		}
	}
	if fetched == 0 && lastErr != nil {
		return nil, eris.Wrapf(lastErr, "website: fetch %s", req.Domain)
	}

	emails := make([]string, 0, len(found))
	for e := range found {
		emails = append(emails, e)
	}
	sort.Slice(emails, func(i, j int) bool {
		oi, oj := onDomain(emails[i], req.Domain), onDomain(emails[j], req.Domain)
		if oi != oj {
			return oi
		}
		return emails[i] < emails[j]
	})

	contacts := make([]model.Contact, 0, len(emails))
	for _, e := range emails {
		contacts = append(contacts, model.Contact{Email: e})
	}
	return buildResult(p.Name(), 0, contacts), nil
}

func (p *WebsiteProvider) scrape(ctx context.Context, pageURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; affiliate-outreach/1.0)")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := eris.Errorf("HTTP %d", resp.StatusCode)
		if resilience.TransientStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, eris.Wrap(err, "parse html")
	}
	return extractEmails(doc), nil
}

// decodeBody converts non-UTF-8 pages using the charset in Content-Type.
func decodeBody(resp *http.Response) (io.Reader, error) {
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return resp.Body, nil
	}
	cs := strings.ToLower(params["charset"])
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return resp.Body, nil
	}
	enc, err := htmlindex.Get(cs)
	if err != nil {
		return nil, eris.Wrapf(err, "unsupported charset %q", cs)
	}
	return enc.NewDecoder().Reader(resp.Body), nil
}

func extractEmails(doc *goquery.Document) []string {
	var out []string
	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if e := cleanEmail(addr); e != "" {
			out = append(out, e)
		}
	})

	doc.Find("script, style, noscript").Remove()
	for _, m := range emailPattern.FindAllString(doc.Text(), -1) {
		if e := cleanEmail(m); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func cleanEmail(s string) string {
	s = strings.ToLower(emailPattern.FindString(s))
	if s == "" {
		return ""
	}
	for _, suf := range assetSuffix {
		if strings.HasSuffix(s, suf) {
			return ""
		}
	}
	return s
}

func onDomain(email, domain string) bool {
	return domain != "" && strings.HasSuffix(email, "@"+domain)
}
