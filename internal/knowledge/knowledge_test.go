package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-voice/internal/cache"
	"restaurant-voice/internal/tenant"
	"restaurant-voice/pkg/logger"
)

func mustParse(t *testing.T, body string) ToolCallRequest {
	t.Helper()
	req, err := ParseToolCallRequest([]byte(body))
	require.NoError(t, err)
	return req
}

func TestExtractQuery_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"top level", `{"query":"is there parking"}`, "is there parking"},
		{"function call", `{"message":{"functionCall":{"parameters":{"query":"vegan options"}}}}`, "vegan options"},
		{"tool call object", `{"message":{"toolCalls":[{"id":"t1","function":{"name":"get_menu_info","arguments":{"query":"pizza"}}}]}}`, "pizza"},
		{"tool call string", `{"message":{"toolCalls":[{"id":"t1","function":{"arguments":"{\"query\":\"hours today\"}"}}]}}`, "hours today"},
		{"skips null arguments", `{"message":{"toolCalls":[{"function":{"arguments":null}},{"function":{"arguments":{"query":"second"}}}]}}`, "second"},
		{"last message", `{"messages":[{"content":"first"},{"role":"user","content":"last"}]}`, "last"},
		{"nothing", `{}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustParse(t, tt.body).ExtractQuery())
		})
	}
}

func TestToolCallFields(t *testing.T) {
	req := mustParse(t, `{
		"metadata":{"restaurant_id":"r1"},
		"message":{
			"phoneNumber":{"number":"+15551234567"},
			"toolCalls":[{"function":{"name":"get_hours_info"}},{"id":"tc-2"}]
		}
	}`)
	assert.Equal(t, "tc-2", req.ToolCallID())
	assert.Equal(t, "get_hours_info", req.ToolName())
	assert.Equal(t, "hours", CategoryForTool(req.ToolName()))
	assert.Equal(t, "r1", req.MetadataTenant())
	assert.Equal(t, "+15551234567", req.PhoneNumber())

	assert.Equal(t, "", CategoryForTool("transfer_call"))
}

func TestSearchRequestValidate(t *testing.T) {
	err := SearchRequest{}.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	for _, field := range []string{"query", "toolCallId", "restaurant_id"} {
		assert.Contains(t, err.Error(), field)
	}

	err = SearchRequest{Query: "q", ToolCallID: "t", TenantID: "r", Category: "drinks"}.Validate()
	assert.ErrorContains(t, err, "category")

	assert.NoError(t, SearchRequest{Query: "q", ToolCallID: "t", TenantID: "r", Category: "menu", Limit: 5}.Validate())
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,0.25,-1]", VectorLiteral([]float32{0.5, 0.25, -1}))
	assert.Equal(t, "[]", VectorLiteral(nil))
}

type fakeEmbedder struct{ calls atomic.Int32 }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	return []float32{float32(len(text))}, nil
}

type fakeSearcher struct {
	docs  []Document
	err   error
	block bool
	calls atomic.Int32
}

func (f *fakeSearcher) Search(ctx context.Context, _, _ string, _ []float32, _ int) ([]Document, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.docs, f.err
}

type staticChain struct{ tenant string }

func (s staticChain) Resolve(_ context.Context, sig tenant.Signals) (string, tenant.Source) {
	if sig.Header != "" {
		return sig.Header, tenant.SourceHeader
	}
	return s.tenant, tenant.SourceMetadata
}

func newService(t *testing.T, s *fakeSearcher, timeout time.Duration) (*Service, *fakeEmbedder) {
	t.Helper()
	cm := cache.NewManager(cache.Options{Logger: logger.Discard()})
	t.Cleanup(cm.Close)
	emb := &fakeEmbedder{}
	return NewService(Options{
		Cache:    cm,
		Embedder: emb,
		Searcher: s,
		Tenants:  staticChain{tenant: "r1"},
		Timeout:  timeout,
		Logger:   logger.Discard(),
	}), emb
}

func docs(n int) []Document {
	out := make([]Document, n)
	for i := range out {
		out[i] = Document{Content: gofakeit.Sentence(6), Score: 1 - float64(i)/10}
	}
	return out
}

func TestAnswer_JoinsTopThreeAndCaches(t *testing.T) {
	found := docs(5)
	s := &fakeSearcher{docs: found}
	svc, emb := newService(t, s, time.Second)
	req := SearchRequest{Query: "What pizzas?", ToolCallID: "tc1", TenantID: "r1", Category: "menu", Limit: 5}

	resp, err := svc.Answer(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	got := resp.Results[0]
	assert.Equal(t, "tc1", got.ToolCallID)
	assert.Equal(t, found[0].Content+"\n\n"+found[1].Content+"\n\n"+found[2].Content, got.Result)
	assert.Len(t, got.Items, 5)
	assert.Equal(t, "menu", got.Items[0].Category)

	again, err := svc.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, got.Result, again.Results[0].Result)
	assert.Equal(t, int32(1), emb.calls.Load())
	assert.Equal(t, int32(1), s.calls.Load())

	// cache keys are case sensitive
	req.Query = "what pizzas?"
	_, err = svc.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.calls.Load())
}

func TestAnswer_NoResults(t *testing.T) {
	svc, _ := newService(t, &fakeSearcher{}, time.Second)

	resp, err := svc.Answer(context.Background(), SearchRequest{Query: "q", ToolCallID: "tc1", TenantID: "r1", Category: "zones"})
	require.NoError(t, err)
	assert.Equal(t, "I couldn't find any zones information about that.", resp.Results[0].Result)
	assert.Empty(t, resp.Results[0].Items)
}

func TestAnswer_TimeoutAnswersWithDelayMessage(t *testing.T) {
	svc, _ := newService(t, &fakeSearcher{block: true}, 20*time.Millisecond)

	resp, err := svc.Answer(context.Background(), SearchRequest{Query: "q", ToolCallID: "tc1", TenantID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, DelayMessage, resp.Results[0].Result)
}

func TestAnswer_SearchErrorPropagates(t *testing.T) {
	svc, _ := newService(t, &fakeSearcher{err: errors.New("db down")}, time.Second)

	_, err := svc.Answer(context.Background(), SearchRequest{Query: "q", ToolCallID: "tc1", TenantID: "r1"})
	assert.ErrorContains(t, err, "db down")
}

func TestPrepare_ResolvesTenantAndCategory(t *testing.T) {
	svc, _ := newService(t, &fakeSearcher{}, time.Second)
	req := mustParse(t, `{"message":{"toolCalls":[{"id":"tc1","function":{"name":"get_menu_info","arguments":{"query":"salads"}}}]}}`)

	sr, err := svc.Prepare(context.Background(), req, "hdr-tenant", "")
	require.NoError(t, err)
	assert.Equal(t, SearchRequest{Query: "salads", ToolCallID: "tc1", TenantID: "hdr-tenant", Category: "menu", Limit: DefaultResultLimit}, sr)

	_, err = svc.Prepare(context.Background(), mustParse(t, `{"query":"salads"}`), "", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPrepare_KeepsQueryWhitespace(t *testing.T) {
	svc, _ := newService(t, &fakeSearcher{}, time.Second)
	ctx := context.Background()

	padded, err := svc.Prepare(ctx, mustParse(t, `{"query":"  Hello ","message":{"toolCalls":[{"id":"tc1"}]}}`), "r1", "")
	require.NoError(t, err)
	plain, err := svc.Prepare(ctx, mustParse(t, `{"query":"Hello","message":{"toolCalls":[{"id":"tc1"}]}}`), "r1", "")
	require.NoError(t, err)

	assert.Equal(t, "  Hello ", padded.Query)
	assert.Equal(t, "Hello", plain.Query)
	assert.NotEqual(t, cache.Key(padded.TenantID, padded.Query, padded.Category), cache.Key(plain.TenantID, plain.Query, plain.Category))

	_, err = svc.Prepare(ctx, mustParse(t, `{"query":"   ","message":{"toolCalls":[{"id":"tc1"}]}}`), "r1", "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPostgresSearcher(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("search_documents").
		WithArgs("[0.5,0.25]", "r1", 5, "menu").
		WillReturnRows(sqlmock.NewRows([]string{"content", "metadata", "similarity"}).
			AddRow("Margherita pizza", []byte(`{"price":12}`), 0.91).
			AddRow("Pepperoni pizza", nil, 0.85))

	got, err := NewPostgresSearcher(db).Search(context.Background(), "r1", "menu", []float32{0.5, 0.25}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Margherita pizza", got[0].Content)
	assert.JSONEq(t, `{"price":12}`, string(got[0].Metadata))
	assert.Nil(t, got[1].Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		if body.Input == "fail" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		assert.Equal(t, "text-embedding-3-small", body.Model)
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "text-embedding-3-small"})
	vec, err := e.Embed(context.Background(), "menu")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	_, err = e.Embed(context.Background(), "fail")
	assert.ErrorContains(t, err, "rate limited")
}

func TestHandler_ToolCall(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newService(t, &fakeSearcher{docs: []Document{{Content: "Open 9 to 5", Score: 0.9}}}, time.Second)
	r := gin.New()
	r.Use(logger.Middleware(logger.Discard()))
	r.POST("/vapi/knowledge-base", Handler{Service: svc}.ToolCall)

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/vapi/knowledge-base", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := send(`{"message":{"toolCalls":[{"id":"tc1","function":{"name":"get_hours_info","arguments":"{\"query\":\"when are you open\"}"}}]}}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp ToolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tc1", resp.Results[0].ToolCallID)
	assert.Equal(t, "Open 9 to 5", resp.Results[0].Result)

	assert.Equal(t, http.StatusUnprocessableEntity, send(`{"query":"no tool call id"}`).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, send(`[`).Code)
}
