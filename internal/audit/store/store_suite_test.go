package store

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"brandaudit/internal/audit/models"
	"brandaudit/pkg/platform/sentinel"
)

type auditStore interface {
	Create(ctx context.Context, fields models.AuditFields) (*models.Audit, error)
	Get(ctx context.Context, id string) (*models.Audit, error)
	Update(ctx context.Context, id string, patch models.AuditPatch) (*models.Audit, error)
	ListByStatus(ctx context.Context, status models.Status) ([]*models.Audit, error)
}

// StoreContractSuite runs the behavior every backend must share.
type StoreContractSuite struct {
	suite.Suite
	ctx      context.Context
	store    auditStore
	newStore func(s *StoreContractSuite) auditStore
}

func (s *StoreContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s)
}

func (s *StoreContractSuite) create(brand string) *models.Audit {
	a, err := s.store.Create(s.ctx, models.AuditFields{
		BrandName:         brand,
		WebsiteURL:        "https://" + brand + ".test",
		TotalPublications: 30,
	})
	s.Require().NoError(err)
	return a
}

func (s *StoreContractSuite) TestCreateAndGet() {
	s.Run("create assigns identity and defaults", func() {
		a := s.create("acme")
		s.NotEmpty(a.ID)
		s.Equal(models.StatusPending, a.Status)
		s.Empty(a.Results)
		s.Equal(30, a.TotalPublications)
		s.False(a.CreatedAt.IsZero())
		s.Nil(a.CompletedAt)
	})

	s.Run("get returns the stored record", func() {
		a := s.create("globex")
		got, err := s.store.Get(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(a.ID, got.ID)
		s.Equal("globex", got.BrandName)
		s.Equal("https://globex.test", got.WebsiteURL)
		s.Equal(models.StatusPending, got.Status)
		s.NotNil(got.Results)
		s.WithinDuration(a.CreatedAt, got.CreatedAt, time.Millisecond)
	})

	s.Run("get is idempotent", func() {
		a := s.create("initech")
		first, err := s.store.Get(s.ctx, a.ID)
		s.Require().NoError(err)
		second, err := s.store.Get(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(first, second)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Get(s.ctx, "does-not-exist")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreContractSuite) TestUpdate() {
	s.Run("merges only the provided fields", func() {
		a := s.create("acme")
		results := []models.Result{
			{Domain: "apnews.com", BrandMentioned: true, Title: "Acme news", URL: "https://apnews.com/a"},
			{Domain: "ktla.com", BrandMentioned: false},
		}
		updated, err := s.store.Update(s.ctx, a.ID, models.AuditPatch{
			Status:        models.Ptr(models.StatusProcessing),
			Results:       results,
			MentionsFound: models.Ptr(1),
			CoverageRate:  models.Ptr(50),
		})
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, updated.Status)
		s.Equal(1, updated.MentionsFound)

		got, err := s.store.Get(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(results, got.Results)
		s.Equal(50, got.CoverageRate)
		s.Equal("acme", got.BrandName)
		s.Equal(30, got.TotalPublications)
	})

	s.Run("unknown id is not found", func() {
		_, err := s.store.Update(s.ctx, "does-not-exist", models.AuditPatch{MentionsFound: models.Ptr(1)})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("terminal records are immutable", func() {
		a := s.create("acme")
		completedAt := time.Now().UTC()
		_, err := s.store.Update(s.ctx, a.ID, models.AuditPatch{
			Status:        models.Ptr(models.StatusCompleted),
			Strategy:      &models.Strategy{Insights: []string{"i"}, PriorityTargets: []string{"p"}, Actions: []string{"a"}},
			TopSource:     models.Ptr("AP News"),
			ShareableLink: models.Ptr("http://localhost:5000/share/" + a.ID),
			CompletedAt:   &completedAt,
		})
		s.Require().NoError(err)

		_, err = s.store.Update(s.ctx, a.ID, models.AuditPatch{Status: models.Ptr(models.StatusProcessing)})
		s.ErrorIs(err, sentinel.ErrInvalidState)

		got, err := s.store.Get(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, got.Status)
		s.Require().NotNil(got.Strategy)
		s.Equal([]string{"i"}, got.Strategy.Insights)
		s.Require().NotNil(got.TopSource)
		s.Equal("AP News", *got.TopSource)
		s.Require().NotNil(got.CompletedAt)
		s.WithinDuration(completedAt, *got.CompletedAt, time.Millisecond)
	})

	s.Run("status never moves backward", func() {
		a := s.create("acme")
		_, err := s.store.Update(s.ctx, a.ID, models.AuditPatch{Status: models.Ptr(models.StatusProcessing)})
		s.Require().NoError(err)
		_, err = s.store.Update(s.ctx, a.ID, models.AuditPatch{Status: models.Ptr(models.StatusPending)})
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("returned records are copies", func() {
		a := s.create("acme")
		_, err := s.store.Update(s.ctx, a.ID, models.AuditPatch{Results: []models.Result{{Domain: "apnews.com"}}})
		s.Require().NoError(err)

		got, err := s.store.Get(s.ctx, a.ID)
		s.Require().NoError(err)
		got.Results[0].Domain = "mutated.test"

		again, err := s.store.Get(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal("apnews.com", again.Results[0].Domain)
	})
}

func (s *StoreContractSuite) TestConcurrentUpdatesOnOneAudit() {
	a := s.create("acme")
	_, err := s.store.Update(s.ctx, a.ID, models.AuditPatch{Status: models.Ptr(models.StatusProcessing)})
	s.Require().NoError(err)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Update(s.ctx, a.ID, models.AuditPatch{MentionsFound: models.Ptr(i)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	got, err := s.store.Get(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusProcessing, got.Status)
	s.GreaterOrEqual(got.MentionsFound, 0)
	s.Less(got.MentionsFound, 10)
}

func (s *StoreContractSuite) TestListByStatus() {
	first := s.create("first")
	second := s.create("second")
	third := s.create("third")

	_, err := s.store.Update(s.ctx, second.ID, models.AuditPatch{Status: models.Ptr(models.StatusProcessing)})
	s.Require().NoError(err)

	pending, err := s.store.ListByStatus(s.ctx, models.StatusPending)
	s.Require().NoError(err)
	ids := make([]string, 0, len(pending))
	for _, a := range pending {
		ids = append(ids, a.ID)
	}
	s.Contains(ids, first.ID)
	s.Contains(ids, third.ID)
	s.NotContains(ids, second.ID)

	processing, err := s.store.ListByStatus(s.ctx, models.StatusProcessing)
	s.Require().NoError(err)
	s.Require().Len(processing, 1)
	s.Equal(second.ID, processing[0].ID)

	failed, err := s.store.ListByStatus(s.ctx, models.StatusFailed)
	s.Require().NoError(err)
	s.NotNil(failed)
	s.Empty(failed)
}
