package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/observability"
)

const (
	defaultGenerateTimeout = 30 * time.Second
	defaultImageTimeout    = 10 * time.Second
	defaultDeliverTimeout  = 10 * time.Second
)

type Generator interface {
	Generate(ctx context.Context, payload domain.ContextPayload) (string, error)
}

type ImageFetcher interface {
	FetchImage(ctx context.Context, ref string) (domain.Image, error)
}

type Deliverer interface {
	Send(ctx context.Context, reply domain.OutboundReply) error
}

type CatalogView interface {
	Get() []domain.Product
	LastRefreshedAt() time.Time
	RefreshIfDue(ctx context.Context, now time.Time) (bool, error)
}

type SessionStore interface {
	// Lock returns an unlock func that tolerates repeated calls.
	Lock(id string) func()
	History(id string) []domain.Turn
	AppendTurn(id string, turn domain.Turn, now time.Time)
	SweepExpired(now time.Time) int
}

type ReplyConfig struct {
	StoreDomain     string
	GenerateTimeout time.Duration
	ImageTimeout    time.Duration
	DeliverTimeout  time.Duration
}

// ReplyService runs the per-message pipeline: record the customer turn,
// assemble context, generate, bind product links, record the assistant turn,
// sweep expired sessions and deliver. Messages for the same session are
// processed one at a time.
type ReplyService struct {
	generator Generator
	images    ImageFetcher
	delivery  Deliverer
	catalog   CatalogView
	sessions  SessionStore
	assembler *ContextAssembler
	cfg       ReplyConfig

	now func() time.Time
}

func NewReplyService(gen Generator, images ImageFetcher, delivery Deliverer, catalog CatalogView, sessions SessionStore, assembler *ContextAssembler, cfg ReplyConfig) (*ReplyService, error) {
	if gen == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if images == nil {
		return nil, errors.New("usecase: image fetcher must not be nil")
	}
	if delivery == nil {
		return nil, errors.New("usecase: deliverer must not be nil")
	}
	if catalog == nil {
		return nil, errors.New("usecase: catalog must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if assembler == nil {
		return nil, errors.New("usecase: context assembler must not be nil")
	}
	cfg.StoreDomain = strings.TrimSpace(cfg.StoreDomain)
	if cfg.StoreDomain == "" {
		return nil, errors.New("usecase: store domain must not be empty")
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = defaultImageTimeout
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = defaultDeliverTimeout
	}
	return &ReplyService{
		generator: gen,
		images:    images,
		delivery:  delivery,
		catalog:   catalog,
		sessions:  sessions,
		assembler: assembler,
		cfg:       cfg,
		now:       time.Now,
	}, nil
}

// HandleMessage produces and delivers a reply for one inbound message. The
// only error returned is an *Error with ErrorInvalidInput; every downstream
// failure is turned into a fixed reply text instead.
func (s *ReplyService) HandleMessage(ctx context.Context, in domain.IncomingMessage) (domain.OutboundReply, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return domain.OutboundReply{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if strings.TrimSpace(in.Text) == "" && in.ImageRef == "" {
		return domain.OutboundReply{}, newError(ErrorInvalidInput, "empty_message", nil)
	}

	ctx = observability.WithSessionID(ctx, sessionID)
	log := observability.LoggerFromContext(ctx)

	s.refreshCatalog(ctx)

	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	prior := s.sessions.History(sessionID)
	s.sessions.AppendTurn(sessionID, domain.Turn{
		Role:     domain.RoleCustomer,
		Text:     in.Text,
		ImageRef: in.ImageRef,
	}, s.now())

	image := s.fetchImage(ctx, in.ImageRef)
	products := s.catalog.Get()
	payload := s.assembler.BuildContext(prior, in.Text, image, products)

	text := s.generate(ctx, payload, products)

	s.sessions.AppendTurn(sessionID, domain.Turn{Role: domain.RoleAssistant, Text: text}, s.now())
	// Locked sessions are skipped by the sweep, so release ours first.
	unlock()
	if removed := s.sessions.SweepExpired(s.now()); removed > 0 {
		log.Info("expired sessions swept", "removed", removed)
	}

	reply := domain.OutboundReply{RecipientID: sessionID, Text: text}
	s.deliver(ctx, reply)
	return reply, nil
}

// refreshCatalog waits for the fetch only while no snapshot has ever loaded.
// Afterwards refreshes run in the background and replies use the current
// snapshot, however stale.
func (s *ReplyService) refreshCatalog(ctx context.Context) {
	now := s.now()
	if s.catalog.LastRefreshedAt().IsZero() {
		_, _ = s.catalog.RefreshIfDue(ctx, now)
		return
	}
	go func() {
		_, _ = s.catalog.RefreshIfDue(context.WithoutCancel(ctx), now)
	}()
}

func (s *ReplyService) fetchImage(ctx context.Context, ref string) *domain.Image {
	if ref == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ImageTimeout)
	defer cancel()

	img, err := s.images.FetchImage(ctx, ref)
	if err != nil {
		e := newError(ErrorAttachmentFetch, "image_download_error", err)
		observability.LoggerFromContext(ctx).Warn("attachment fetch failed, continuing without image",
			"code", e.Code, "reason", e.Reason, "err", err)
		return nil
	}
	return &img
}

func (s *ReplyService) generate(ctx context.Context, payload domain.ContextPayload, products []domain.Product) string {
	log := observability.LoggerFromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.GenerateTimeout)
	defer cancel()

	raw, err := s.generator.Generate(ctx, payload)
	if err == nil && strings.TrimSpace(raw) == "" {
		err = domain.ErrNoReply
	}
	if err != nil {
		e := classifyGenerateError(err)
		log.Error("reply generation failed", "code", e.Code, "reason", e.Reason, "err", err)
		return FallbackReply(e.Code)
	}
	return RenderReply(strings.TrimSpace(raw), products, s.cfg.StoreDomain)
}

func (s *ReplyService) deliver(ctx context.Context, reply domain.OutboundReply) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DeliverTimeout)
	defer cancel()

	if err := s.delivery.Send(ctx, reply); err != nil {
		observability.LoggerFromContext(ctx).Error("reply delivery failed", "err", err)
	}
}
