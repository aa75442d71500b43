package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"listing_filter/internal/domain"
	"listing_filter/internal/store"
	"listing_filter/internal/store/storetest"
)

func TestKeywordRepositoryCRUD(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).KeywordRepository()

	created, err := repo.CreateKeyword(ctx, domain.Keyword{Text: "replica", Type: domain.TypeExport, Priority: domain.PriorityHigh, Active: true})
	if err != nil {
		t.Fatalf("create keyword: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}

	_, err = repo.CreateKeyword(ctx, domain.Keyword{Text: "replica", Type: domain.TypeExport, Priority: domain.PriorityLow, Active: true})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for duplicate identity, got %v", err)
	}

	// same text under another type is a different identity
	if _, err := repo.CreateKeyword(ctx, domain.Keyword{Text: "replica", Type: domain.TypeVero, Priority: domain.PriorityLow, Active: true}); err != nil {
		t.Fatalf("create keyword with other type: %v", err)
	}

	created.Active = false
	created.Priority = domain.PriorityLow
	updated, err := repo.UpdateKeyword(ctx, created)
	if err != nil {
		t.Fatalf("update keyword: %v", err)
	}
	if updated.Active || updated.Priority != domain.PriorityLow {
		t.Fatalf("unexpected updated keyword: %+v", updated)
	}

	active, err := repo.ListActiveKeywords(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Type != domain.TypeVero {
		t.Fatalf("expected only the vero keyword to be active, got %+v", active)
	}

	listed, err := repo.ListKeywords(ctx, domain.KeywordFilter{Type: domain.TypeExport})
	if err != nil {
		t.Fatalf("list keywords: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 export keyword, got %d", len(listed))
	}

	n, err := repo.DeleteKeywords(ctx, []uint{created.ID})
	if err != nil || n != 1 {
		t.Fatalf("delete keywords: n=%d err=%v", n, err)
	}
	if _, err := repo.GetKeyword(ctx, created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestKeywordIdentityUsesNormalizedText(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).KeywordRepository()

	fake, err := repo.CreateKeyword(ctx, domain.Keyword{Text: "Fake", Type: domain.TypeExport, Priority: domain.PriorityHigh, Active: true})
	if err != nil {
		t.Fatalf("create keyword: %v", err)
	}

	for _, text := range []string{"fake", "ＦＡＫＥ", "  FAKE "} {
		_, err := repo.CreateKeyword(ctx, domain.Keyword{Text: text, Type: domain.TypeExport, Priority: domain.PriorityLow, Active: true})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected %q to collide with %q, got %v", text, fake.Text, err)
		}
	}

	other, err := repo.CreateKeyword(ctx, domain.Keyword{Text: "replica", Type: domain.TypeExport, Priority: domain.PriorityLow, Active: true})
	if err != nil {
		t.Fatalf("create keyword: %v", err)
	}
	other.Text = "fAKE"
	_, err = repo.UpdateKeyword(ctx, other)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected rename onto an existing identity to fail, got %v", err)
	}

	// renaming a keyword to another spelling of itself is allowed
	fake.Text = "FAKE"
	if _, err := repo.UpdateKeyword(ctx, fake); err != nil {
		t.Fatalf("update own spelling: %v", err)
	}

	if _, err := repo.UpsertKeywords(ctx, []domain.Keyword{{Text: "ｆａｋｅ", Type: domain.TypeExport, Priority: domain.PriorityMedium}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	listed, _ := repo.ListKeywords(ctx, domain.KeywordFilter{Type: domain.TypeExport})
	if len(listed) != 2 {
		t.Fatalf("expected upsert to refresh the existing keyword, got %+v", listed)
	}
	got, _ := repo.GetKeyword(ctx, fake.ID)
	if got.Priority != domain.PriorityMedium {
		t.Fatalf("expected priority refreshed on the normalized match, got %s", got.Priority)
	}
}

func TestUpsertKeywordsKeepsDetectionCount(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).KeywordRepository()

	seed := []domain.Keyword{
		{Text: "amazon banned", Type: domain.TypeMallSpecific, Scope: "amazon", Priority: domain.PriorityMedium},
		{Text: "fake", Type: domain.TypeExport, Priority: domain.PriorityHigh},
	}
	if _, err := repo.UpsertKeywords(ctx, seed); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	active, _ := repo.ListActiveKeywords(ctx)
	var fakeID uint
	for _, kw := range active {
		if kw.Text == "fake" {
			fakeID = kw.ID
		}
	}
	if err := repo.AddDetectionCounts(ctx, map[uint]int64{fakeID: 4}); err != nil {
		t.Fatalf("add counts: %v", err)
	}

	seed[1].Priority = domain.PriorityLow
	if _, err := repo.UpsertKeywords(ctx, seed); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	kw, err := repo.GetKeyword(ctx, fakeID)
	if err != nil {
		t.Fatalf("get keyword: %v", err)
	}
	if kw.DetectionCount != 4 {
		t.Fatalf("expected detection count 4 to survive upsert, got %d", kw.DetectionCount)
	}
	if kw.Priority != domain.PriorityLow {
		t.Fatalf("expected priority to be refreshed, got %s", kw.Priority)
	}

	all, _ := repo.ListActiveKeywords(ctx)
	if len(all) != 2 {
		t.Fatalf("expected 2 keywords after repeated upsert, got %d", len(all))
	}
}

func TestReferenceTables(t *testing.T) {
	ctx := context.Background()
	repo := storetest.New(t).KeywordRepository()

	if _, err := repo.CreateCountryRestriction(ctx, domain.CountryRestriction{CountryCode: "us", RestrictionType: "import_ban", RestrictedKeywords: []string{"ivory"}, Active: true}); err != nil {
		t.Fatalf("create restriction: %v", err)
	}
	if _, err := repo.CreateCountryRestriction(ctx, domain.CountryRestriction{CountryCode: "KR", RestrictedKeywords: []string{"knife"}, Active: false}); err != nil {
		t.Fatalf("create restriction: %v", err)
	}
	if _, err := repo.CreateVeroParticipant(ctx, domain.VeroParticipant{BrandName: "Acme", ProtectedKeywords: []string{"acme"}}); err != nil {
		t.Fatalf("create vero: %v", err)
	}
	if _, err := repo.CreateVeroParticipant(ctx, domain.VeroParticipant{BrandName: "Gone", ProtectedKeywords: []string{"gone"}, Status: "withdrawn"}); err != nil {
		t.Fatalf("create vero: %v", err)
	}
	if _, err := repo.CreatePatentTrollCase(ctx, domain.PatentTrollCase{CaseID: "PT-1", RiskLevel: "high", Metadata: map[string]any{"court": "EDTX"}}); err != nil {
		t.Fatalf("create case: %v", err)
	}

	restrictions, err := repo.ListCountryRestrictions(ctx, true)
	if err != nil {
		t.Fatalf("list restrictions: %v", err)
	}
	if len(restrictions) != 1 || restrictions[0].CountryCode != "US" || restrictions[0].RestrictedKeywords[0] != "ivory" {
		t.Fatalf("unexpected restrictions: %+v", restrictions)
	}

	participants, err := repo.ListVeroParticipants(ctx, true)
	if err != nil {
		t.Fatalf("list vero: %v", err)
	}
	if len(participants) != 1 || participants[0].BrandName != "Acme" {
		t.Fatalf("unexpected participants: %+v", participants)
	}

	cases, err := repo.ListPatentTrollCases(ctx, 10)
	if err != nil {
		t.Fatalf("list cases: %v", err)
	}
	if len(cases) != 1 || cases[0].Metadata["court"] != "EDTX" {
		t.Fatalf("unexpected cases: %+v", cases)
	}
}

func createProduct(t *testing.T, ctx context.Context, s *store.Store, p domain.Product) domain.Product {
	t.Helper()
	created, err := s.Products().CreateProduct(ctx, p)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return created
}

func TestBulkStatements(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	products := s.Products()

	passed := createProduct(t, ctx, s, domain.Product{Title: "a", ExportStatus: domain.Bool(true), PatentStatus: domain.Bool(true)})
	withMall := createProduct(t, ctx, s, domain.Product{Title: "b", ExportStatus: domain.Bool(true), PatentStatus: domain.Bool(true), MallStatus: domain.Bool(true), SelectedMall: domain.String("rakuten")})
	failed := createProduct(t, ctx, s, domain.Product{Title: "c", ExportStatus: domain.Bool(false), PatentStatus: domain.Bool(true)})
	ids := []uint{passed.ID, withMall.ID, failed.ID}

	n, err := products.CountStagePassed(ctx, ids)
	if err != nil || n != 2 {
		t.Fatalf("count stage passed: n=%d err=%v", n, err)
	}

	n, err = products.AssignDefaultMall(ctx, ids, "amazon")
	if err != nil || n != 1 {
		t.Fatalf("assign default mall: n=%d err=%v", n, err)
	}
	n, err = products.ApproveGated(ctx, ids)
	if err != nil || n != 2 {
		t.Fatalf("approve gated: n=%d err=%v", n, err)
	}

	got, _ := products.GetProduct(ctx, passed.ID)
	if got.SelectedMall == nil || *got.SelectedMall != "amazon" || !domain.IsTrue(got.MallStatus) || got.FinalJudgment != domain.JudgmentOK {
		t.Fatalf("unexpected approved product: %+v", got)
	}
	got, _ = products.GetProduct(ctx, withMall.ID)
	if *got.SelectedMall != "rakuten" {
		t.Fatalf("existing mall must be kept, got %q", *got.SelectedMall)
	}
	got, _ = products.GetProduct(ctx, failed.ID)
	if got.FinalJudgment != domain.JudgmentNG || got.SelectedMall != nil {
		t.Fatalf("ineligible product must be unchanged: %+v", got)
	}

	n, err = products.ResetMallFilters(ctx, ids)
	if err != nil || n != 2 {
		t.Fatalf("reset: n=%d err=%v", n, err)
	}
	n, err = products.ResetMallFilters(ctx, ids)
	if err != nil || n != 0 {
		t.Fatalf("second reset must affect nothing: n=%d err=%v", n, err)
	}
	got, _ = products.GetProduct(ctx, passed.ID)
	if got.SelectedMall != nil || got.MallStatus != nil || got.FinalJudgment != domain.JudgmentPending {
		t.Fatalf("unexpected reset product: %+v", got)
	}

	n, err = products.RejectAll(ctx, ids)
	if err != nil || n != 2 {
		t.Fatalf("reject: n=%d err=%v", n, err)
	}
}

func TestDeleteUnlistedSkipsListed(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	draft := createProduct(t, ctx, s, domain.Product{Title: "draft"})
	listed := createProduct(t, ctx, s, domain.Product{Title: "listed", ListingStatus: domain.ListingStatusListed})

	n, err := s.Products().DeleteUnlisted(ctx, []uint{draft.ID, listed.ID})
	if err != nil || n != 1 {
		t.Fatalf("delete unlisted: n=%d err=%v", n, err)
	}
	if _, err := s.Products().GetProduct(ctx, listed.ID); err != nil {
		t.Fatalf("listed product must survive: %v", err)
	}
	if _, err := s.Products().GetProduct(ctx, draft.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("draft product must be deleted, got %v", err)
	}
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	p := createProduct(t, ctx, s, domain.Product{Title: "x", ExportStatus: domain.Bool(true), PatentStatus: domain.Bool(true), MallStatus: domain.Bool(true)})

	boom := errors.New("boom")
	err := s.Transaction(ctx, func(tx domain.Store) error {
		if _, err := tx.Products().RejectAll(ctx, []uint{p.ID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := s.Products().GetProduct(ctx, p.ID)
	if got.FinalJudgment != domain.JudgmentOK {
		t.Fatalf("expected rollback to keep OK, got %s", got.FinalJudgment)
	}
}

func TestDetectionQueueFlushIsAdditive(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	repo := s.KeywordRepository()
	queue := s.DetectionQueue()

	kw, err := repo.CreateKeyword(ctx, domain.Keyword{Text: "fake", Type: domain.TypeExport, Priority: domain.PriorityHigh, Active: true})
	if err != nil {
		t.Fatalf("create keyword: %v", err)
	}

	now := time.Now()
	entries := []domain.Increment{{KeywordID: kw.ID, DetectedAt: now}, {KeywordID: kw.ID, DetectedAt: now}, {KeywordID: kw.ID, DetectedAt: now}}
	if err := queue.Enqueue(ctx, entries); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	n, err := queue.Flush(ctx, 2)
	if err != nil || n != 2 {
		t.Fatalf("first flush: n=%d err=%v", n, err)
	}
	n, err = queue.Flush(ctx, 10)
	if err != nil || n != 1 {
		t.Fatalf("second flush: n=%d err=%v", n, err)
	}
	n, err = queue.Flush(ctx, 10)
	if err != nil || n != 0 {
		t.Fatalf("empty flush: n=%d err=%v", n, err)
	}

	got, _ := repo.GetKeyword(ctx, kw.ID)
	if got.DetectionCount != 3 {
		t.Fatalf("expected detection count 3, got %d", got.DetectionCount)
	}
	pending, _ := queue.Pending(ctx)
	if pending != 0 {
		t.Fatalf("expected empty queue, got %d", pending)
	}
}

func TestDetectionQueueFlushRollsBackWhenEntriesTaken(t *testing.T) {
	ctx := context.Background()
	db := storetest.NewDB(t)
	s := store.New(db)
	repo := s.KeywordRepository()
	queue := s.DetectionQueue()

	kw, err := repo.CreateKeyword(ctx, domain.Keyword{Text: "fake", Type: domain.TypeExport, Priority: domain.PriorityHigh, Active: true})
	if err != nil {
		t.Fatalf("create keyword: %v", err)
	}
	now := time.Now()
	entries := []domain.Increment{{KeywordID: kw.ID, DetectedAt: now}, {KeywordID: kw.ID, DetectedAt: now}, {KeywordID: kw.ID, DetectedAt: now}}
	if err := queue.Enqueue(ctx, entries); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// another flusher removes an entry after this flush read it
	err = db.Exec(`CREATE TRIGGER take_queued AFTER UPDATE OF detection_count ON keywords
BEGIN
	DELETE FROM detection_queue WHERE id = (SELECT MIN(id) FROM detection_queue);
END`).Error
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	n, err := queue.Flush(ctx, 10)
	if !errors.Is(err, store.ErrFlushConflict) || n != 0 {
		t.Fatalf("expected flush conflict, got n=%d err=%v", n, err)
	}
	got, _ := repo.GetKeyword(ctx, kw.ID)
	if got.DetectionCount != 0 {
		t.Fatalf("conflicting flush must not apply counts, got %d", got.DetectionCount)
	}
	if pending, _ := queue.Pending(ctx); pending != 3 {
		t.Fatalf("expected 3 entries to stay queued, got %d", pending)
	}

	if err := db.Exec("DROP TRIGGER take_queued").Error; err != nil {
		t.Fatalf("drop trigger: %v", err)
	}
	n, err = queue.Flush(ctx, 10)
	if err != nil || n != 3 {
		t.Fatalf("retry flush: n=%d err=%v", n, err)
	}
	got, _ = repo.GetKeyword(ctx, kw.ID)
	if got.DetectionCount != 3 {
		t.Fatalf("expected detection count 3, got %d", got.DetectionCount)
	}
}

func TestDetectionQueueConcurrentFlushersCountOnce(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)
	repo := s.KeywordRepository()
	queue := s.DetectionQueue()

	kw, err := repo.CreateKeyword(ctx, domain.Keyword{Text: "fake", Type: domain.TypeExport, Priority: domain.PriorityHigh, Active: true})
	if err != nil {
		t.Fatalf("create keyword: %v", err)
	}
	now := time.Now()
	entries := make([]domain.Increment, 50)
	for i := range entries {
		entries[i] = domain.Increment{KeywordID: kw.ID, DetectedAt: now}
	}
	if err := queue.Enqueue(ctx, entries); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				n, err := queue.Flush(ctx, 7)
				if err != nil && !errors.Is(err, store.ErrFlushConflict) {
					t.Errorf("flush: %v", err)
					return
				}
				if err == nil && n == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	got, _ := repo.GetKeyword(ctx, kw.ID)
	if got.DetectionCount != 50 {
		t.Fatalf("expected detection count 50, got %d", got.DetectionCount)
	}
}

func TestAuditAndStatistics(t *testing.T) {
	ctx := context.Background()
	s := storetest.New(t)

	err := s.Audit().AppendAudit(ctx, domain.AuditRecord{
		RequestID: "req-1", Operation: "bulk_reject", Actor: "tester",
		ProductIDs: []uint{1, 2}, Requested: 2, Eligible: 2, Processed: 2, Outcome: domain.OutcomeSuccess,
	})
	if err != nil {
		t.Fatalf("append audit: %v", err)
	}
	records, err := s.Audit().ListAudit(ctx, 10)
	if err != nil || len(records) != 1 {
		t.Fatalf("list audit: %d %v", len(records), err)
	}
	if len(records[0].ProductIDs) != 2 || records[0].Outcome != domain.OutcomeSuccess {
		t.Fatalf("unexpected record: %+v", records[0])
	}

	repo := s.KeywordRepository()
	kw, _ := repo.CreateKeyword(ctx, domain.Keyword{Text: "fake", Type: domain.TypeExport, Priority: domain.PriorityHigh, Active: true})
	_, _ = repo.CreateKeyword(ctx, domain.Keyword{Text: "clone", Type: domain.TypeExport, Priority: domain.PriorityLow, Active: false})
	_ = repo.AddDetectionCounts(ctx, map[uint]int64{kw.ID: 5})
	createProduct(t, ctx, s, domain.Product{Title: "p"})

	stats, err := s.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if len(stats.Keywords) != 1 {
		t.Fatalf("expected one type row, got %+v", stats.Keywords)
	}
	row := stats.Keywords[0]
	if row.Total != 2 || row.Active != 1 || row.High != 1 || row.DetectionsTotal != 5 {
		t.Fatalf("unexpected type stats: %+v", row)
	}
	if stats.Judgments[domain.JudgmentPending] != 1 {
		t.Fatalf("expected one pending product, got %+v", stats.Judgments)
	}
	if len(stats.TopKeywords) != 1 || stats.TopKeywords[0].ID != kw.ID {
		t.Fatalf("unexpected top keywords: %+v", stats.TopKeywords)
	}
}
