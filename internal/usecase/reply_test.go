package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shop-assistant/internal/catalog"
	"shop-assistant/internal/domain"
	"shop-assistant/internal/session"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockGenerator struct {
	mu       sync.Mutex
	answer   string
	err      error
	calls    int
	captured domain.ContextPayload
}

func (m *mockGenerator) Generate(_ context.Context, p domain.ContextPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.captured = p
	return m.answer, m.err
}

type mockImages struct {
	img domain.Image
	err error
	ref string
}

func (m *mockImages) FetchImage(_ context.Context, ref string) (domain.Image, error) {
	m.ref = ref
	return m.img, m.err
}

type mockDelivery struct {
	mu   sync.Mutex
	sent []domain.OutboundReply
	err  error
}

func (m *mockDelivery) Send(_ context.Context, r domain.OutboundReply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, r)
	return m.err
}

type mockCatalog struct {
	mu         sync.Mutex
	products   []domain.Product
	loadedAt   time.Time
	refreshErr error
	refreshes  int
}

func (m *mockCatalog) Get() []domain.Product { return m.products }

func (m *mockCatalog) LastRefreshedAt() time.Time { return m.loadedAt }

func (m *mockCatalog) RefreshIfDue(_ context.Context, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return m.refreshErr == nil, m.refreshErr
}

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

type fixture struct {
	svc      *ReplyService
	gen      *mockGenerator
	images   *mockImages
	delivery *mockDelivery
	catalog  *mockCatalog
	sessions *session.Store
}

func newFixture(t *testing.T, gen *mockGenerator) *fixture {
	t.Helper()
	f := &fixture{
		gen:      gen,
		images:   &mockImages{img: domain.Image{Data: []byte("jpeg"), MIMEType: "image/jpeg"}},
		delivery: &mockDelivery{},
		catalog:  &mockCatalog{products: testCatalog()},
		sessions: session.NewStore(),
	}
	svc, err := NewReplyService(f.gen, f.images, f.delivery, f.catalog, f.sessions, newTestAssembler(t, AssemblerConfig{}), ReplyConfig{StoreDomain: testDomain})
	require.NoError(t, err)
	svc.now = func() time.Time { return t0 }
	f.svc = svc
	return f
}

func expectUsecaseError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewReplyService_ValidatesDependencies(t *testing.T) {
	gen, img, del, cat, ss := &mockGenerator{}, &mockImages{}, &mockDelivery{}, &mockCatalog{}, session.NewStore()
	asm := newTestAssembler(t, AssemblerConfig{})
	cfg := ReplyConfig{StoreDomain: testDomain}

	_, err := NewReplyService(nil, img, del, cat, ss, asm, cfg)
	require.Error(t, err)
	_, err = NewReplyService(gen, nil, del, cat, ss, asm, cfg)
	require.Error(t, err)
	_, err = NewReplyService(gen, img, nil, cat, ss, asm, cfg)
	require.Error(t, err)
	_, err = NewReplyService(gen, img, del, nil, ss, asm, cfg)
	require.Error(t, err)
	_, err = NewReplyService(gen, img, del, cat, nil, asm, cfg)
	require.Error(t, err)
	_, err = NewReplyService(gen, img, del, cat, ss, nil, cfg)
	require.Error(t, err)
	_, err = NewReplyService(gen, img, del, cat, ss, asm, ReplyConfig{StoreDomain: " "})
	require.Error(t, err)

	svc, err := NewReplyService(gen, img, del, cat, ss, asm, cfg)
	require.NoError(t, err)
	require.Equal(t, defaultGenerateTimeout, svc.cfg.GenerateTimeout)
}

func TestHandleMessage_ValidationErrors(t *testing.T) {
	f := newFixture(t, &mockGenerator{answer: "ok"})

	_, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: " ", Text: "hi"})
	expectUsecaseError(t, err, ErrorInvalidInput, "empty_session_id")

	_, err = f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "  "})
	expectUsecaseError(t, err, ErrorInvalidInput, "empty_message")

	require.Zero(t, f.gen.calls)
	require.Empty(t, f.delivery.sent)
}

func TestHandleMessage_ArabicQueryBindsMatchedProductLink(t *testing.T) {
	gen := &mockGenerator{answer: "  لدينا [[Clear Case]] بسعر 25.00  "}
	f := newFixture(t, gen)

	reply, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "أبحث عن كفر شفاف"})
	require.NoError(t, err)

	require.Contains(t, gen.captured.Catalog, "Clear Case")
	require.NotContains(t, gen.captured.Catalog, "Screen Protector")
	require.NotContains(t, gen.captured.Catalog, "Charger")
	require.Empty(t, gen.captured.History)

	want := `لدينا <a href="https://shop.example.com/products/clear-case">Clear Case</a> بسعر 25.00`
	require.Equal(t, domain.OutboundReply{RecipientID: "42", Text: want}, reply)
	require.Equal(t, []domain.OutboundReply{reply}, f.delivery.sent)

	require.Equal(t, []domain.Turn{
		{Role: domain.RoleCustomer, Text: "أبحث عن كفر شفاف"},
		{Role: domain.RoleAssistant, Text: want},
	}, f.sessions.History("42"))
	require.Equal(t, 1, f.catalog.refreshes)
}

func TestHandleMessage_GeneratorTransportErrorUsesTryAgainReply(t *testing.T) {
	f := newFixture(t, &mockGenerator{err: errors.New("dial tcp: connection refused")})

	reply, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "كفر"})
	require.NoError(t, err)
	require.Equal(t, FallbackReplies[ErrorBackend], reply.Text)

	h := f.sessions.History("42")
	require.Len(t, h, 2)
	require.Equal(t, domain.Turn{Role: domain.RoleAssistant, Text: FallbackReplies[ErrorBackend]}, h[1])
	require.Len(t, f.delivery.sent, 1)
}

func TestHandleMessage_MapsGeneratorFailures(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		err    error
		want   string
	}{
		{name: "content rejected", err: fmt.Errorf("gemini: %w", domain.ErrContentRejected), want: FallbackReplies[ErrorContentRejected]},
		{name: "no reply sentinel", err: fmt.Errorf("gemini: %w", domain.ErrNoReply), want: FallbackReplies[ErrorNoReply]},
		{name: "blank answer", answer: " \n ", want: FallbackReplies[ErrorNoReply]},
		{name: "rate limited", err: &statusErr{code: http.StatusTooManyRequests}, want: FallbackReplies[ErrorBackend]},
		{name: "timeout", err: context.DeadlineExceeded, want: FallbackReplies[ErrorBackend]},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &mockGenerator{answer: tc.answer, err: tc.err})
			reply, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "hi"})
			require.NoError(t, err)
			require.Equal(t, tc.want, reply.Text)
			require.Equal(t, tc.want, f.sessions.History("42")[1].Text)
		})
	}
}

func TestClassifyGenerateError(t *testing.T) {
	require.Equal(t, "safety_blocked", classifyGenerateError(domain.ErrContentRejected).Reason)
	require.Equal(t, "generator_rate_limited", classifyGenerateError(&statusErr{code: 429}).Reason)
	require.Equal(t, "generator_error", classifyGenerateError(&statusErr{code: 500}).Reason)
	require.Equal(t, "generator_timeout", classifyGenerateError(fmt.Errorf("x: %w", context.DeadlineExceeded)).Reason)
	require.Equal(t, FallbackReplies[ErrorBackend], FallbackReply(ErrorAttachmentFetch))
}

func TestHandleMessage_PassesPriorHistoryOnly(t *testing.T) {
	gen := &mockGenerator{answer: "ok"}
	f := newFixture(t, gen)

	_, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "first"})
	require.NoError(t, err)
	_, err = f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "second"})
	require.NoError(t, err)

	require.Equal(t, "Conversation so far:\ncustomer: first\nassistant: ok", gen.captured.History)
	require.Equal(t, "Customer message:\nsecond", gen.captured.Message)
	require.Len(t, f.sessions.History("42"), 4)
}

func TestHandleMessage_ImageAttached(t *testing.T) {
	gen := &mockGenerator{answer: "ok"}
	f := newFixture(t, gen)

	_, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", ImageRef: "file-9"})
	require.NoError(t, err)
	require.Equal(t, "file-9", f.images.ref)
	require.NotNil(t, gen.captured.Image)
	require.Equal(t, "image/jpeg", gen.captured.Image.MIMEType)
	require.Equal(t, "file-9", f.sessions.History("42")[0].ImageRef)
}

func TestHandleMessage_AttachmentFailureContinuesWithoutImage(t *testing.T) {
	gen := &mockGenerator{answer: "ok"}
	f := newFixture(t, gen)
	f.images.err = errors.New("telegram: getFile: 400")

	reply, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "ما هذا؟", ImageRef: "file-9"})
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Text)
	require.Nil(t, gen.captured.Image)
	require.Equal(t, 1, gen.calls)
}

func TestHandleMessage_DeliveryFailureIsLoggedOnly(t *testing.T) {
	f := newFixture(t, &mockGenerator{answer: "ok"})
	f.delivery.err = errors.New("telegram down")

	reply, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Text)
	require.Len(t, f.sessions.History("42"), 2)
}

func TestHandleMessage_CatalogRefreshFailureServesStale(t *testing.T) {
	gen := &mockGenerator{answer: "[[Charger]]"}
	f := newFixture(t, gen)
	f.catalog.refreshErr = errors.New("shopify: 503")

	reply, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "charger"})
	require.NoError(t, err)
	require.Equal(t, `<a href="https://shop.example.com/products/charger">Charger</a>`, reply.Text)
}

func TestHandleMessage_EscapesGeneratedText(t *testing.T) {
	gen := &mockGenerator{answer: "Tom & Jerry <3 [[Charger]]"}
	f := newFixture(t, gen)

	reply, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "charger"})
	require.NoError(t, err)
	require.Equal(t, `Tom &amp; Jerry &lt;3 <a href="https://shop.example.com/products/charger">Charger</a>`, reply.Text)

	gen.answer = "5 < 6 & no links"
	reply, err = f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "hi"})
	require.NoError(t, err)
	require.Equal(t, "5 &lt; 6 &amp; no links", reply.Text)
}

// stallingFetcher serves the catalog once and then hangs until released.
type stallingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
}

func (s *stallingFetcher) FetchCatalog(ctx context.Context) ([]domain.Product, error) {
	if s.calls.Add(1) == 1 {
		return testCatalog(), nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.release:
		return nil, errors.New("storefront unavailable")
	}
}

func TestHandleMessage_DoesNotWaitForCatalogRefresh(t *testing.T) {
	fetcher := &stallingFetcher{release: make(chan struct{})}
	t.Cleanup(func() { close(fetcher.release) })

	cache, err := catalog.New(fetcher, time.Minute, catalog.WithFetchTimeout(5*time.Second))
	require.NoError(t, err)
	_, err = cache.RefreshIfDue(context.Background(), t0)
	require.NoError(t, err)

	gen := &mockGenerator{answer: "[[Clear Case]]"}
	svc, err := NewReplyService(gen, &mockImages{}, &mockDelivery{}, cache, session.NewStore(), newTestAssembler(t, AssemblerConfig{}), ReplyConfig{StoreDomain: testDomain})
	require.NoError(t, err)
	now := t0
	svc.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		now = now.Add(2 * time.Minute)
		start := time.Now()
		reply, err := svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "كفر"})
		require.NoError(t, err)
		require.Less(t, time.Since(start), time.Second)
		require.Equal(t, `<a href="https://shop.example.com/products/clear-case">Clear Case</a>`, reply.Text)
	}
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 2 }, time.Second, time.Millisecond)
	require.Equal(t, t0, cache.LastRefreshedAt())
}

func TestHandleMessage_WaitsForFirstCatalogLoad(t *testing.T) {
	f := newFixture(t, &mockGenerator{answer: "ok"})
	_, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "hi"})
	require.NoError(t, err)
	f.catalog.mu.Lock()
	defer f.catalog.mu.Unlock()
	require.Equal(t, 1, f.catalog.refreshes)
}

func TestHandleMessage_SweepsOwnExpiredSession(t *testing.T) {
	f := newFixture(t, &mockGenerator{answer: "ok"})
	f.sessions.AppendTurn("42", domain.Turn{Role: domain.RoleCustomer, Text: "old"}, t0.Add(-2*time.Hour))

	_, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "hi"})
	require.NoError(t, err)
	require.Empty(t, f.sessions.History("42"))
}

func TestHandleMessage_SweepsExpiredSessions(t *testing.T) {
	f := newFixture(t, &mockGenerator{answer: "ok"})
	f.sessions.AppendTurn("stale", domain.Turn{Role: domain.RoleCustomer, Text: "old"}, t0.Add(-2*time.Hour))

	_, err := f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: "hi"})
	require.NoError(t, err)
	require.Empty(t, f.sessions.History("stale"))
	require.Equal(t, 1, f.sessions.Len())
}

func TestHandleMessage_SameSessionTurnsStayPaired(t *testing.T) {
	f := newFixture(t, &mockGenerator{answer: "ok"})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.svc.HandleMessage(context.Background(), domain.IncomingMessage{SessionID: "42", Text: fmt.Sprintf("m%d", i)})
		}(i)
	}
	wg.Wait()

	h := f.sessions.History("42")
	require.Len(t, h, 8)
	for i := 0; i < len(h); i += 2 {
		require.Equal(t, domain.RoleCustomer, h[i].Role)
		require.Equal(t, domain.RoleAssistant, h[i+1].Role)
	}
}
