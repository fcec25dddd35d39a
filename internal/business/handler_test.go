package business

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbill/smallbill/internal/shared"
	"github.com/smallbill/smallbill/internal/view"
	_ "github.com/smallbill/smallbill/testing"
)

type stubRepo struct {
	businesses map[uuid.UUID]*Business
}

func (s *stubRepo) Create(ctx context.Context, b Business) error {
	s.businesses[b.ID] = &b
	return nil
}

func (s *stubRepo) GetByID(ctx context.Context, id uuid.UUID) (*Business, error) {
	b, ok := s.businesses[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *stubRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Business, error) {
	var out []Business
	for _, b := range s.businesses {
		if b.OwnerID == ownerID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *stubRepo) Update(ctx context.Context, b Business) error {
	s.businesses[b.ID] = &b
	return nil
}

func (s *stubRepo) UpdateLogoURL(ctx context.Context, id uuid.UUID, logoURL string) error {
	return nil
}

func (s *stubRepo) Delete(ctx context.Context, id uuid.UUID) error {
	delete(s.businesses, id)
	return nil
}

type stubLogos struct{}

func (stubLogos) Save(ctx context.Context, businessID uuid.UUID, filename string, r io.Reader) (string, error) {
	return "/uploads/" + businessID.String() + ".png", nil
}

func newShowFixture(t *testing.T) (*Handler, *Business, uuid.UUID) {
	t.Helper()
	ownerID := uuid.New()
	biz := &Business{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      "Sharma Traders",
		Currency:  "INR",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	repo := &stubRepo{businesses: map[uuid.UUID]*Business{biz.ID: biz}}
	service := NewService(repo, stubLogos{})
	templates, err := view.NewEngine()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	csrf := shared.NewCSRFManager("csrfsecret")

	products := ProductListerFunc(func(ctx context.Context, owner, businessID uuid.UUID) ([]ProductSummary, error) {
		return []ProductSummary{
			{ID: uuid.New(), Name: "Steel Widget", Price: decimal.RequireFromString("249.00"), IsActive: true},
			{ID: uuid.New(), Name: "Retired Widget", Price: decimal.RequireFromString("99.00"), IsActive: false},
		}, nil
	})
	income := IncomeReporterFunc(func(ctx context.Context, owner, businessID uuid.UUID) (*IncomeSummary, error) {
		return &IncomeSummary{
			Total:     decimal.RequireFromString("11800.00"),
			ThisMonth: decimal.RequireFromString("1180.00"),
			ThisYear:  decimal.RequireFromString("5900.00"),
		}, nil
	})
	handler := NewHandler(logger, service, templates, csrf, products, income)
	return handler, biz, ownerID
}

func getBusinessPage(t *testing.T, handler *Handler, businessID, ownerID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/businesses/"+businessID.String(), nil)

	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add("businessID", businessID.String())
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)

	sess := &shared.Session{ID: "test-session"}
	sess.SetUser(ownerID.String())
	ctx = shared.ContextWithSession(ctx, sess)
	req = req.WithContext(ctx)

	res := httptest.NewRecorder()
	handler.showBusiness(res, req)
	return res
}

func TestShowBusinessListsProductsAndIncome(t *testing.T) {
	handler, biz, ownerID := newShowFixture(t)

	res := getBusinessPage(t, handler, biz.ID, ownerID)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()

	assert.Contains(t, body, "Steel Widget")
	assert.Contains(t, body, "Retired Widget")
	assert.Contains(t, body, "Total income")
	assert.True(t, strings.Contains(body, "11800.00") || strings.Contains(body, "11,800.00"), "total income figure missing")
}

func TestShowBusinessWithoutSections(t *testing.T) {
	handler, biz, ownerID := newShowFixture(t)
	handler.products = nil
	handler.income = nil

	res := getBusinessPage(t, handler, biz.ID, ownerID)
	require.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()

	assert.Contains(t, body, biz.Name)
	assert.NotContains(t, body, "Total income")
}

func TestShowBusinessForeignOwner(t *testing.T) {
	handler, biz, _ := newShowFixture(t)

	res := getBusinessPage(t, handler, biz.ID, uuid.New())
	assert.Equal(t, http.StatusForbidden, res.Code)
}
