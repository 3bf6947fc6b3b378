// Package discovery builds a playable scenario from a topic or a source URL.
//
// A URL run extracts the article first, trying each extraction strategy in
// order until one yields enough text. Both kinds of run may then research
// the topic with a web search before a single model call writes the
// scenario.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jwebster45206/crisis-engine/internal/metrics"
	"github.com/jwebster45206/crisis-engine/internal/services"
	"github.com/jwebster45206/crisis-engine/pkg/prompts"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
	"github.com/jwebster45206/crisis-engine/pkg/textfilter"
)

const (
	// DefaultFetchTimeout bounds each outbound extraction or search call.
	DefaultFetchTimeout = 15 * time.Second
	// MaxSearchContext bounds the research block handed to the model.
	MaxSearchContext = 8000
)

// Request is the input of one discovery run. At least one of Query and
// SourceURL is required.
type Request struct {
	Query     string `json:"query,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`
	Timeframe string `json:"timeframe,omitempty"`
}

// Config selects the outbound services of a pipeline.
type Config struct {
	ReaderBaseURL string
	TavilyAPIKey  string
	TavilyBaseURL string
	FetchTimeout  time.Duration
	HTTPClient    *http.Client
}

// Pipeline runs scenario discovery.
type Pipeline struct {
	llm        services.LLMService
	resolver   *prompts.Resolver
	extractors []Extractor
	searcher   Searcher
	timeout    time.Duration
	logger     *slog.Logger
}

// NewPipeline wires the extraction chain: the reader proxy, then Tavily
// when a key is configured, then a direct fetch.
func NewPipeline(llm services.LLMService, cfg Config, logger *slog.Logger) *Pipeline {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}

	extractors := []Extractor{&ReaderExtractor{BaseURL: cfg.ReaderBaseURL, Client: client}}
	var searcher Searcher
	if cfg.TavilyAPIKey != "" {
		tavily := NewTavilyClient(cfg.TavilyAPIKey, client)
		if cfg.TavilyBaseURL != "" {
			tavily.WithBaseURL(cfg.TavilyBaseURL)
		}
		extractors = append(extractors, tavily)
		searcher = tavily
	}
	extractors = append(extractors, &DirectExtractor{Client: client})

	return &Pipeline{
		llm:        llm,
		resolver:   prompts.DefaultResolver(),
		extractors: extractors,
		searcher:   searcher,
		timeout:    timeout,
		logger:     logger,
	}
}

// WithExtractors replaces the extraction chain.
func (p *Pipeline) WithExtractors(extractors ...Extractor) *Pipeline {
	p.extractors = extractors
	return p
}

// WithSearcher replaces the searcher; nil disables research.
func (p *Pipeline) WithSearcher(s Searcher) *Pipeline {
	p.searcher = s
	return p
}

// Discover runs the pipeline. Failures are always *Error.
func (p *Pipeline) Discover(ctx context.Context, req Request) (*scenario.Scenario, error) {
	sc, err := p.discover(ctx, req)
	if err != nil {
		var derr *Error
		if errors.As(err, &derr) {
			metrics.Discoveries.WithLabelValues(string(derr.Code)).Inc()
		}
		return nil, err
	}
	metrics.Discoveries.WithLabelValues(metrics.StatusOK).Inc()
	return sc, nil
}

func (p *Pipeline) discover(ctx context.Context, req Request) (*scenario.Scenario, error) {
	req.Query = strings.TrimSpace(req.Query)
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.Query == "" && req.SourceURL == "" {
		return nil, &Error{Code: CodeInvalidInput, Err: errors.New("query or sourceUrl is required")}
	}

	in := prompts.DiscoveryInput{Query: req.Query, SourceURL: req.SourceURL, Timeframe: req.Timeframe}
	if req.SourceURL != "" {
		if err := checkURL(req.SourceURL); err != nil {
			return nil, &Error{Code: CodeInvalidInput, Err: err}
		}
		content, err := p.Extract(ctx, req.SourceURL)
		if err != nil {
			return nil, err
		}
		in.SourceContent = content
	}

	in.SearchContext = p.research(ctx, in)

	return p.generate(ctx, in)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid sourceUrl: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid sourceUrl: %q is not an http(s) URL", raw)
	}
	return nil
}

// Extract tries each strategy in order and returns the first usable text.
// When all fail, the accumulated errors are classified into one code.
func (p *Pipeline) Extract(ctx context.Context, target string) (string, error) {
	var attempts []string
	for _, ex := range p.extractors {
		text, err := p.extractOne(ctx, ex, target)
		if err == nil {
			p.logger.Info("Source extracted", "strategy", ex.Name(), "chars", len(text))
			return text, nil
		}
		if ctx.Err() != nil {
			attempts = append(attempts, fmt.Sprintf("%s: %v", ex.Name(), ctx.Err()))
			break
		}
		p.logger.Warn("Extraction strategy failed", "strategy", ex.Name(), "error", err)
		attempts = append(attempts, fmt.Sprintf("%s: %v", ex.Name(), err))
	}
	return "", &Error{Code: Classify(attempts), Attempts: attempts}
}

func (p *Pipeline) extractOne(ctx context.Context, ex Extractor, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return ex.Extract(ctx, target)
}

type queryPayload struct {
	Queries []string `json:"queries"`
}

// research derives search queries and runs them in parallel. Every failure
// here is logged and swallowed; an empty context is a valid result.
func (p *Pipeline) research(ctx context.Context, in prompts.DiscoveryInput) string {
	if p.searcher == nil {
		return ""
	}
	queries, err := p.searchQueries(ctx, in)
	if err != nil {
		p.logger.Warn("Failed to derive search queries", "error", err)
		return ""
	}
	if len(queries) == 0 {
		return ""
	}

	results := make([][]SearchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, p.timeout)
			defer cancel()
			res, err := p.searcher.Search(sctx, q)
			if err != nil {
				p.logger.Warn("Search failed", "query", q, "error", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var b strings.Builder
	for _, res := range results {
		for _, r := range res {
			if strings.TrimSpace(r.Content) == "" {
				continue
			}
			fmt.Fprintf(&b, "### %s\n%s\n\n", strings.TrimSpace(r.Title), strings.TrimSpace(r.Content))
		}
	}
	return strings.TrimSpace(prompts.Truncate(b.String(), MaxSearchContext))
}

func (p *Pipeline) searchQueries(ctx context.Context, in prompts.DiscoveryInput) ([]string, error) {
	messages, err := p.resolver.BuildSearchQueryMessages(in)
	if err != nil {
		return nil, err
	}
	resp, err := p.llm.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}
	obj, ok := textfilter.JSONObject(resp.Message)
	if !ok {
		return nil, errors.New("no JSON object in query response")
	}
	var payload queryPayload
	if err := json.Unmarshal([]byte(obj), &payload); err != nil {
		return nil, fmt.Errorf("invalid query response: %w", err)
	}

	out := make([]string, 0, prompts.MaxSearchQueries)
	for _, q := range payload.Queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
		if len(out) == prompts.MaxSearchQueries {
			break
		}
	}
	return out, nil
}

func (p *Pipeline) generate(ctx context.Context, in prompts.DiscoveryInput) (*scenario.Scenario, error) {
	messages, err := p.resolver.BuildDiscoveryMessages(in)
	if err != nil {
		return nil, &Error{Code: CodeDiscoveryFailed, Err: err}
	}
	resp, err := p.llm.Chat(ctx, messages)
	if err != nil {
		p.logger.Error("Scenario generation failed", "error", err)
		return nil, &Error{Code: CodeDiscoveryFailed, Err: err}
	}

	obj, ok := textfilter.JSONObject(resp.Message)
	if !ok {
		return nil, &Error{Code: CodeDiscoveryFailed, Err: errors.New("no JSON object in scenario response")}
	}
	var sc scenario.Scenario
	if err := json.Unmarshal([]byte(obj), &sc); err != nil {
		p.logger.Warn("Failed to decode scenario", "error", err, "response", prompts.Truncate(resp.Message, 500))
		return nil, &Error{Code: CodeDiscoveryFailed, Err: fmt.Errorf("invalid scenario JSON: %w", err)}
	}
	if len(sc.Actors) == 0 {
		return nil, &Error{Code: CodeDiscoveryFailed, Err: errors.New("scenario has no actors")}
	}

	sc.Normalize()
	for i := range sc.Actors {
		var r scenario.Resources
		r.Merge(sc.Actors[i].Resources)
		sc.Actors[i].Resources = r
	}
	p.logger.Info("Scenario discovered", "scenario_id", sc.ID, "actors", len(sc.Actors), "milestones", len(sc.Milestones))
	return &sc, nil
}
