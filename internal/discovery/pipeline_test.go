package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/jwebster45206/crisis-engine/internal/services"
	"github.com/jwebster45206/crisis-engine/pkg/chat"
	"github.com/jwebster45206/crisis-engine/pkg/scenario"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

const scenarioReply = `{
	"title": "Strait Standoff",
	"description": "A naval incident escalates.",
	"timeframe": {"start": "2024-03"},
	"actors": [
		{"name": "Northern Republic", "type": "Nation", "objectives": "Control the strait", "resources": {"military": 130, "popular": 72.5}},
		{"id": "south", "name": "Southern Federation", "type": "country", "color": "#000000"}
	],
	"milestones": [{"title": "Collision at sea", "significance": "CRITICAL"}]
}`

var longArticle = strings.Repeat("The two navies have shadowed each other for weeks. ", 10)

// recorder notes the order in which fake upstreams are hit.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) hit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newServer(t *testing.T, rec *recorder, name string, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.hit(name)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func htmlPage(title, body string) string {
	return "<html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		attempts []string
		want     Code
	}{
		{"not found wins over blocked", []string{"reader: reader returned HTTP 403", "direct: direct fetch returned HTTP 404 (page not found)"}, CodePageNotFound},
		{"blocked", []string{"reader: reader returned an error page: Access Denied", "direct: direct fetch returned HTTP 403 (blocked)"}, CodeDomainBlocked},
		{"timeout", []string{"reader: reader request failed: context deadline exceeded", "direct: direct fetch failed: Client.Timeout exceeded"}, CodeTimeout},
		{"anything else", []string{"reader: reader content too short (12 chars)", "direct: direct content too short (40 chars)"}, CodeExtractionFailed},
		{"nothing tried", nil, CodeExtractionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.attempts))
		})
	}
}

func TestError_Message(t *testing.T) {
	for _, code := range []Code{CodePageNotFound, CodeDomainBlocked, CodeTimeout, CodeExtractionFailed, CodeDiscoveryFailed, CodeInvalidInput} {
		assert.NotEmpty(t, (&Error{Code: code}).Message(), code)
	}
	assert.NotEqual(t, (&Error{Code: CodePageNotFound}).Message(), (&Error{Code: CodeTimeout}).Message())
}

func TestArticleText(t *testing.T) {
	page := htmlPage("Report", `
		<header>Site header</header>
		<nav><a href="/">Home</a></nav>
		<script>var tracking = true;</script>
		<style>p { color: red }</style>
		<main>
			<p>Main intro</p>
			<article>
				<h1>Talks &amp; tensions</h1>
				<p>Leaders   met on
				Tuesday.</p>
				<footer>Share this</footer>
			</article>
		</main>
		<footer>Copyright</footer>`)
	doc, err := html.Parse(strings.NewReader(page))
	require.NoError(t, err)

	assert.Equal(t, "Report", PageTitle(doc))
	assert.Equal(t, "Talks & tensions\nLeaders met on Tuesday.", ArticleText(doc))

	noArticle, err := html.Parse(strings.NewReader(htmlPage("x", "<nav>menu</nav><main><p>Only main</p></main><p>outside</p>")))
	require.NoError(t, err)
	assert.Equal(t, "Only main", ArticleText(noArticle))
}

func TestIsErrorTitle(t *testing.T) {
	assert.True(t, IsErrorTitle("404 - Page Not Found"))
	assert.True(t, IsErrorTitle("Sorry, this page was not found"))
	assert.True(t, IsErrorTitle("Just a moment..."))
	assert.False(t, IsErrorTitle("Naval standoff deepens in the strait"))
	assert.False(t, IsErrorTitle(""))
}

func TestExtract_FallbackOrder(t *testing.T) {
	rec := &recorder{}
	reader := newServer(t, rec, "reader", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("too short"))
	})
	tavily := newServer(t, rec, "tavily", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract", r.URL.Path)
		assert.Equal(t, "Bearer tvly-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]string{{"url": "x", "raw_content": "short"}}})
	})
	direct := newServer(t, rec, "direct", func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla")
		_, _ = w.Write([]byte(htmlPage("Standoff", "<article><p>"+longArticle+"</p></article>")))
	})

	p := NewPipeline(services.NewMockLLMAPI(), Config{
		ReaderBaseURL: reader.URL + "/",
		TavilyAPIKey:  "tvly-key",
		TavilyBaseURL: tavily.URL,
	}, testLogger())

	text, err := p.Extract(context.Background(), direct.URL+"/article")
	require.NoError(t, err)
	assert.Contains(t, text, "shadowed each other")
	assert.Equal(t, []string{"reader", "tavily", "direct"}, rec.order())
}

func TestExtract_ReaderSuccessStopsTheChain(t *testing.T) {
	rec := &recorder{}
	reader := newServer(t, rec, "reader", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.URL.Path, "/http"), "target URL is appended to the reader base")
		_, _ = w.Write([]byte(longArticle))
	})

	p := NewPipeline(services.NewMockLLMAPI(), Config{ReaderBaseURL: reader.URL + "/"}, testLogger())
	text, err := p.Extract(context.Background(), "https://news.example.com/story")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(longArticle), text)
	assert.Equal(t, []string{"reader"}, rec.order())
}

func TestExtract_FailureCodes(t *testing.T) {
	tests := []struct {
		name   string
		reader http.HandlerFunc
		direct http.HandlerFunc
		want   Code
	}{
		{
			name:   "404 title",
			reader: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("tiny")) },
			direct: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(htmlPage("404 - Page Not Found", "<p>"+longArticle+"</p>")))
			},
			want: CodePageNotFound,
		},
		{
			name: "reader error signature",
			reader: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("Warning: Target URL returned error 404: Not Found\n" + longArticle))
			},
			direct: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			want:   CodePageNotFound,
		},
		{
			name:   "blocked",
			reader: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			direct: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) },
			want:   CodeDomainBlocked,
		},
		{
			name:   "timeout",
			reader: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
			direct: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			want: CodeTimeout,
		},
		{
			name:   "short content",
			reader: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("tiny")) },
			direct: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(htmlPage("Fine", "<article><p>Just a teaser.</p></article>")))
			},
			want: CodeExtractionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			reader := newServer(t, rec, "reader", tt.reader)
			direct := newServer(t, rec, "direct", tt.direct)

			llm := services.NewMockLLMWithReply(scenarioReply)
			p := NewPipeline(llm, Config{ReaderBaseURL: reader.URL + "/", FetchTimeout: 100 * time.Millisecond}, testLogger())

			_, err := p.Discover(context.Background(), Request{SourceURL: direct.URL + "/story"})
			var derr *Error
			require.True(t, errors.As(err, &derr), "got %v", err)
			assert.Equal(t, tt.want, derr.Code)
			assert.Len(t, derr.Attempts, 2)

			chats, _ := llm.CallCounts()
			assert.Zero(t, chats, "generation never runs after extraction fails")
		})
	}
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if query == "broken query" {
		return nil, errors.New("search backend down")
	}
	return []SearchResult{{Title: "Result for " + query, Content: "Findings about " + query}}, nil
}

func scriptedLLM(queries string) *services.MockLLMAPI {
	m := services.NewMockLLMAPI()
	m.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		last := messages[len(messages)-1].Content
		if strings.Contains(last, "web search queries") {
			return &chat.ChatResponse{Message: queries}, nil
		}
		return &chat.ChatResponse{Message: "```json\n" + scenarioReply + "\n```"}, nil
	}
	return m
}

func TestDiscover_QueryWithResearch(t *testing.T) {
	llm := scriptedLLM(`{"queries":["strait navies","broken query","strait timeline","one too many"]}`)
	searcher := &fakeSearcher{}
	p := NewPipeline(llm, Config{}, testLogger()).WithSearcher(searcher)

	sc, err := p.Discover(context.Background(), Request{Query: "Strait standoff", Timeframe: "2024"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"strait navies", "broken query", "strait timeline"}, searcher.queries, "at most three searches")

	chats, _ := llm.CallCounts()
	require.Equal(t, 2, chats)
	final := llm.LastChatMessages()
	user := final[len(final)-1].Content
	assert.Contains(t, user, "Findings about strait navies")
	assert.Contains(t, user, "Findings about strait timeline")
	assert.NotContains(t, user, "broken query")

	assert.Equal(t, "Strait Standoff", sc.Title)
	assert.NotEmpty(t, sc.ID)
}

func TestDiscover_WithoutSearcherSkipsResearch(t *testing.T) {
	llm := scriptedLLM(`{"queries":["unused"]}`)
	p := NewPipeline(llm, Config{}, testLogger())

	_, err := p.Discover(context.Background(), Request{Query: "Strait standoff"})
	require.NoError(t, err)
	chats, _ := llm.CallCounts()
	assert.Equal(t, 1, chats, "only the generation call runs")
}

func TestDiscover_ResearchFailureIsSwallowed(t *testing.T) {
	llm := services.NewMockLLMAPI()
	calls := 0
	llm.ChatFunc = func(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("rate limited")
		}
		return &chat.ChatResponse{Message: scenarioReply}, nil
	}
	p := NewPipeline(llm, Config{}, testLogger()).WithSearcher(&fakeSearcher{})

	sc, err := p.Discover(context.Background(), Request{Query: "Strait standoff"})
	require.NoError(t, err)
	assert.Equal(t, "Strait Standoff", sc.Title)
}

func TestDiscover_Normalizes(t *testing.T) {
	p := NewPipeline(services.NewMockLLMWithReply(scenarioReply), Config{}, testLogger())
	sc, err := p.Discover(context.Background(), Request{Query: "Strait standoff"})
	require.NoError(t, err)

	require.Len(t, sc.Actors, 2)
	assert.Equal(t, "actor-0", sc.Actors[0].ID)
	assert.Equal(t, scenario.Palette[0], sc.Actors[0].Color)
	assert.Equal(t, scenario.ActorTypeCountry, sc.Actors[0].Type)
	assert.Equal(t, scenario.TextList{"Control the strait"}, sc.Actors[0].Objectives)
	require.NotNil(t, sc.Actors[0].Resources.Military)
	assert.Equal(t, 100, *sc.Actors[0].Resources.Military)
	assert.Nil(t, sc.Actors[0].Resources.Economic, "untracked gauges stay untracked")
	require.NotNil(t, sc.Actors[0].Resources.Popular)
	assert.Equal(t, 73, *sc.Actors[0].Resources.Popular, "fractional gauges round")

	assert.Equal(t, "south", sc.Actors[1].ID)
	assert.Equal(t, "#000000", sc.Actors[1].Color)

	require.Len(t, sc.Milestones, 1)
	assert.Equal(t, "milestone-0", sc.Milestones[0].ID)
	assert.Equal(t, scenario.SignificanceCritical, sc.Milestones[0].Significance)
}

func TestDiscover_Failures(t *testing.T) {
	tests := []struct {
		name string
		llm  *services.MockLLMAPI
		req  Request
		want Code
	}{
		{"no input", services.NewMockLLMWithReply(scenarioReply), Request{}, CodeInvalidInput},
		{"bad url", services.NewMockLLMWithReply(scenarioReply), Request{SourceURL: "ftp://example.com/x"}, CodeInvalidInput},
		{"model error", func() *services.MockLLMAPI { m := services.NewMockLLMAPI(); m.SetError(errors.New("boom")); return m }(), Request{Query: "x"}, CodeDiscoveryFailed},
		{"not JSON", services.NewMockLLMWithReply("I can't help with that"), Request{Query: "x"}, CodeDiscoveryFailed},
		{"no actors", services.NewMockLLMWithReply(`{"title":"Empty"}`), Request{Query: "x"}, CodeDiscoveryFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(tt.llm, Config{}, testLogger())
			sc, err := p.Discover(context.Background(), tt.req)
			assert.Nil(t, sc)
			var derr *Error
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, tt.want, derr.Code)
		})
	}
}
