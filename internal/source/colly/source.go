// Package collysource implements the comment Source using gocolly.
package collysource

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/vrtlabs/feedback-pipeline/internal/pipeline"
)

// Config controls collector behavior and the selectors used to lift comments
// out of a channel's review pages. Selectors are per-deployment config, not
// code: channels differ in markup, not in protocol.
type Config struct {
	UserAgent string
	Timeout   time.Duration

	// CommentSelector matches one comment block on a page.
	CommentSelector string
	// IDAttr is the attribute on the comment block carrying the external
	// comment id.
	IDAttr string
	// TextSelector matches the comment text within a block.
	TextSelector string
	// PostedAtSelector optionally matches the posted timestamp within a
	// block.
	PostedAtSelector string
	// PostedAtLayout is the time.Parse layout for the posted timestamp.
	PostedAtLayout string
	// NextPageSelector optionally matches the pagination link; its href
	// drives page walking.
	NextPageSelector string
}

// Waiter paces page fetches per host. *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Source fetches review pages for a binding and parses comment payloads.
type Source struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
	logger        *zap.Logger
}

// New builds a Source. limiter may be nil to fetch unpaced.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Source {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Source{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		logger:        logger,
	}
}

// FetchComments walks up to maxPages pages starting at the binding's page URL
// and returns every parsed comment. A failure on the first page fails the
// binding; failures on later pages return the comments already collected.
func (s *Source) FetchComments(ctx context.Context, binding pipeline.VehicleChannelBinding, maxPages int) ([]pipeline.CommentPayload, error) {
	if binding.PageURL == "" {
		return nil, fmt.Errorf("binding %d has no page url", binding.ID)
	}
	if maxPages <= 0 {
		maxPages = 1
	}

	var payloads []pipeline.CommentPayload
	pageURL := binding.PageURL
	for page := 0; page < maxPages && pageURL != ""; page++ {
		if err := ctx.Err(); err != nil {
			return payloads, err
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx, pageURL); err != nil {
				return payloads, err
			}
		}
		pagePayloads, next, err := s.fetchPage(ctx, pageURL)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("fetch page %s: %w", pageURL, err)
			}
			s.logger.Warn("page fetch failed mid-walk",
				zap.Int64("binding_id", binding.ID),
				zap.String("url", pageURL),
				zap.Error(err))
			break
		}
		payloads = append(payloads, pagePayloads...)
		if next == pageURL {
			break
		}
		pageURL = next
	}
	return payloads, nil
}

// fetchPage visits one URL and returns its parsed comments plus the next page
// URL, if any.
func (s *Source) fetchPage(ctx context.Context, url string) ([]pipeline.CommentPayload, string, error) {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.SetRequestTimeout(s.cfg.Timeout)

	var (
		body     []byte
		payloads []pipeline.CommentPayload
		next     string
		fetchErr error
	)

	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})

	collector.OnHTML(s.cfg.CommentSelector, func(e *colly.HTMLElement) {
		payload, ok := s.parseComment(e, url)
		if !ok {
			return
		}
		payloads = append(payloads, payload)
	})

	if s.cfg.NextPageSelector != "" {
		collector.OnHTML(s.cfg.NextPageSelector, func(e *colly.HTMLElement) {
			href := e.Attr("href")
			if href != "" {
				next = e.Request.AbsoluteURL(href)
			}
		})
	}

	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("page fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, "", fmt.Errorf("visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, "", fmt.Errorf("response failed: %w", fetchErr)
		}
	}

	for i := range payloads {
		payloads[i].PageBody = body
	}
	return payloads, next, nil
}

func (s *Source) parseComment(e *colly.HTMLElement, pageURL string) (pipeline.CommentPayload, bool) {
	externalID := strings.TrimSpace(e.Attr(s.cfg.IDAttr))
	text := strings.TrimSpace(e.ChildText(s.cfg.TextSelector))
	if externalID == "" || text == "" {
		return pipeline.CommentPayload{}, false
	}
	payload := pipeline.CommentPayload{
		ExternalID: externalID,
		Content:    text,
		SourceURL:  pageURL,
	}
	if s.cfg.PostedAtSelector != "" && s.cfg.PostedAtLayout != "" {
		raw := strings.TrimSpace(e.ChildText(s.cfg.PostedAtSelector))
		if raw != "" {
			if ts, err := time.Parse(s.cfg.PostedAtLayout, raw); err == nil {
				utc := ts.UTC()
				payload.PostedAt = &utc
			} else {
				s.logger.Debug("unparseable posted timestamp",
					zap.String("raw", raw),
					zap.String("external_id", externalID))
			}
		}
	}
	return payload, true
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
