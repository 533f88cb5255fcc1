package interaction

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeExtractor struct {
	out   Extracted
	err   error
	calls int
	text  string
}

func (f *fakeExtractor) Extract(_ context.Context, text string) (Extracted, error) {
	f.calls++
	f.text = text
	return f.out, f.err
}

type memRepo struct {
	mu        sync.Mutex
	rows      []Record
	insertErr error
	listErr   error
}

func (m *memRepo) InsertInteraction(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return Record{}, m.insertErr
	}
	rec.ID = int64(len(m.rows) + 1)
	rec.CreatedAt = time.Date(2026, 2, 17, 0, 0, len(m.rows), 0, time.UTC)
	rec.UpdatedAt = rec.CreatedAt
	m.rows = append(m.rows, rec)
	return rec, nil
}

func (m *memRepo) ListInteractions(_ context.Context, f ListFilter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []Record
	for i := len(m.rows) - 1; i >= 0; i-- {
		if f.HCPName != "" && str(m.rows[i].HCPName) != f.HCPName {
			continue
		}
		out = append(out, m.rows[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *memRepo) GetInteraction(_ context.Context, id int64) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || int(id) > len(m.rows) {
		return Record{}, ErrNotFound
	}
	return m.rows[id-1], nil
}

type recordingPublisher struct {
	got []Record
	err error
}

func (r *recordingPublisher) PublishLogged(_ context.Context, rec Record) error {
	r.got = append(r.got, rec)
	return r.err
}

func patelExtraction() Extracted {
	return Extracted{
		HCPName:         ptr("Dr. Patel"),
		InteractionType: ptr("Meeting"),
		Date:            ptr("2025-04-18"),
		Time:            ptr("09:30"),
		Products:        []string{"OncoBoost"},
		Topics:          ptr("Discussed OncoBoost efficacy in late-stage patients"),
		Sentiment:       ptr("Positive"),
	}
}

func newTestPipeline(ex Extractor, repo Repository, pub Publisher) *Pipeline {
	return NewPipeline(PipelineConfig{Extractor: ex, Repository: repo, Publisher: pub})
}

func TestPipelineRunsAllStagesInOrder(t *testing.T) {
	ex := &fakeExtractor{out: patelExtraction()}
	repo := &memRepo{}
	pub := &recordingPublisher{}
	ctx := WithRequestID(context.Background(), "req-1")

	res, err := newTestPipeline(ex, repo, pub).Run(ctx, Request{Text: "Met Dr. Patel this morning about OncoBoost."})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{StageExtract, StagePersist, StageEdit, StageSuggestFollowup, StageSummarizeHistory, StageSuggestResources}
	if strings.Join(res.Metadata.StagesExecuted, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected stage order: %v", res.Metadata.StagesExecuted)
	}
	if ex.calls != 1 {
		t.Fatalf("expected exactly one extraction call, got %d", ex.calls)
	}
	if len(repo.rows) != 1 || repo.rows[0].RequestID != "req-1" {
		t.Fatalf("expected one stored row with request id, got %+v", repo.rows)
	}
	if len(pub.got) != 1 || pub.got[0].ID != 1 {
		t.Fatalf("expected one published record, got %+v", pub.got)
	}

	st := res.State
	if st.InteractionID != 1 {
		t.Fatalf("expected interaction id 1, got %d", st.InteractionID)
	}
	if len(st.Extracted.Materials) != 1 || st.Extracted.Materials[0] != (Material{ID: "OncoBoost", Name: "Phase III trial results"}) {
		t.Fatalf("expected default material, got %+v", st.Extracted.Materials)
	}
	if len(repo.rows[0].Materials) != 1 {
		t.Fatal("expected default material to be persisted")
	}
	wantFollowups := []string{
		"Schedule next meeting according to Dr. Patel's preference: Prefers morning meetings",
		"Share the latest patient outcomes data for OncoBoost in similar cancer types",
		"Send thank you email with additional resources discussed",
	}
	if strings.Join(st.SuggestedFollowups, "|") != strings.Join(wantFollowups, "|") {
		t.Fatalf("unexpected followups: %v", st.SuggestedFollowups)
	}
	wantHistory := "Previous Interactions:\nInteraction 1 on 2025-04-18: Discussed 'Discussed OncoBoost efficacy in late-stage patients'. Sentiment: Positive."
	if st.HistorySummary != wantHistory {
		t.Fatalf("unexpected history:\n%s", st.HistorySummary)
	}
	if strings.Join(st.SuggestedResources, "|") != "Phase III trial results|Patient selection guide|Dosing information" {
		t.Fatalf("unexpected resources: %v", st.SuggestedResources)
	}

	resp := BuildResponse(res)
	wantMsg := "I've processed your interaction with Dr. Patel. " + wantHistory +
		" Based on your discussion, you might want to share: Phase III trial results, Patient selection guide."
	if resp.Message != wantMsg {
		t.Fatalf("unexpected message:\n%s", resp.Message)
	}
}

func TestPipelineEditChangesInMemoryRecordOnly(t *testing.T) {
	ex := &fakeExtractor{out: patelExtraction()}
	repo := &memRepo{}
	req := Request{
		Text:    "Please change the sentiment to negative and the date to April 21",
		Context: map[string]any{"is_edit": true},
	}
	res, err := newTestPipeline(ex, repo, nil).Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := str(res.State.Extracted.Sentiment); got != "Negative" {
		t.Fatalf("expected edited sentiment Negative, got %q", got)
	}
	if got := str(res.State.Extracted.Date); got != "2025-04-21" {
		t.Fatalf("expected edited date 2025-04-21, got %q", got)
	}
	if got := str(repo.rows[0].Sentiment); got != "Positive" {
		t.Fatalf("stored row should keep extracted sentiment, got %q", got)
	}
	if res.State.SuggestedFollowups[2] != "Schedule call to address concerns" {
		t.Fatalf("followups should use edited sentiment: %v", res.State.SuggestedFollowups)
	}
}

func TestPipelineWithoutEditFlagIgnoresKeywords(t *testing.T) {
	ex := &fakeExtractor{out: patelExtraction()}
	res, err := newTestPipeline(ex, &memRepo{}, nil).Run(context.Background(), Request{Text: "sentiment negative, date april 20"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if str(res.State.Extracted.Sentiment) != "Positive" || str(res.State.Extracted.Date) != "2025-04-18" {
		t.Fatalf("record should be unchanged without is_edit: %+v", res.State.Extracted)
	}
}

func TestPipelineUnknownHCPNoProducts(t *testing.T) {
	ex := &fakeExtractor{out: Extracted{HCPName: ptr("Dr. Who")}}
	res, err := newTestPipeline(ex, &memRepo{}, nil).Run(context.Background(), Request{Text: "quick chat"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{
		"Share additional clinical data that may help with decision making",
		"Schedule follow-up call in 2 weeks to continue the discussion",
	}
	if strings.Join(res.State.SuggestedFollowups, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected followups: %v", res.State.SuggestedFollowups)
	}
	if strings.Join(res.State.SuggestedResources, "|") != "Company overview brochure|Product catalog|Recent publications list" {
		t.Fatalf("unexpected resources: %v", res.State.SuggestedResources)
	}
	if res.State.Extracted.Materials != nil {
		t.Fatalf("no default material expected without products: %+v", res.State.Extracted.Materials)
	}
}

func TestPipelineNoNameUsesPlaceholders(t *testing.T) {
	ex := &fakeExtractor{out: Extracted{}}
	res, err := newTestPipeline(ex, &memRepo{}, nil).Run(context.Background(), Request{Text: "talked to someone"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State.HistorySummary != HistoryNoName {
		t.Fatalf("unexpected history: %q", res.State.HistorySummary)
	}
	resp := BuildResponse(res)
	want := "I've processed your interaction with the HCP. Based on your discussion, you might want to share: Company overview brochure, Product catalog."
	if resp.Message != want {
		t.Fatalf("unexpected message: %q", resp.Message)
	}
}

func TestPipelineRejectsBlankText(t *testing.T) {
	ex := &fakeExtractor{}
	_, err := newTestPipeline(ex, &memRepo{}, nil).Run(context.Background(), Request{Text: "   "})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if ex.calls != 0 {
		t.Fatal("extractor must not run for invalid input")
	}
}

func TestPipelineTruncatesLongInput(t *testing.T) {
	ex := &fakeExtractor{out: Extracted{}}
	res, err := newTestPipeline(ex, &memRepo{}, nil).Run(context.Background(), Request{Text: strings.Repeat("é", MaxInputBytes)})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Metadata.InputTruncated {
		t.Fatal("expected truncation flag")
	}
	if len(ex.text) > MaxInputBytes || !strings.HasPrefix(strings.Repeat("é", MaxInputBytes), ex.text) {
		t.Fatalf("truncated text is not a clean prefix (len=%d)", len(ex.text))
	}
}

func TestPipelineExtractionFailureStopsBeforePersist(t *testing.T) {
	ex := &fakeExtractor{err: errors.New("provider down")}
	repo := &memRepo{}
	_, err := newTestPipeline(ex, repo, nil).Run(context.Background(), Request{Text: "hello"})
	if err == nil {
		t.Fatal("expected error")
	}
	if StageNameFromError(err) != StageExtract {
		t.Fatalf("expected extract stage error, got %s", StageNameFromError(err))
	}
	if len(repo.rows) != 0 {
		t.Fatal("nothing should be stored after a failed extraction")
	}
}

func TestPipelineInsertFailure(t *testing.T) {
	ex := &fakeExtractor{out: patelExtraction()}
	pub := &recordingPublisher{}
	_, err := newTestPipeline(ex, &memRepo{insertErr: errors.New("disk full")}, pub).Run(context.Background(), Request{Text: "hello"})
	if StageNameFromError(err) != StagePersist {
		t.Fatalf("expected persist stage error, got %v", err)
	}
	if len(pub.got) != 0 {
		t.Fatal("nothing should be published when the insert fails")
	}
}

func TestPipelineHistoryFailure(t *testing.T) {
	ex := &fakeExtractor{out: patelExtraction()}
	_, err := newTestPipeline(ex, &memRepo{listErr: errors.New("locked")}, nil).Run(context.Background(), Request{Text: "hello"})
	if StageNameFromError(err) != StageSummarizeHistory {
		t.Fatalf("expected history stage error, got %v", err)
	}
}

func TestPipelinePublishFailureDoesNotFailRun(t *testing.T) {
	ex := &fakeExtractor{out: patelExtraction()}
	pub := &recordingPublisher{err: errors.New("nats down")}
	if _, err := newTestPipeline(ex, &memRepo{}, pub).Run(context.Background(), Request{Text: "hello"}); err != nil {
		t.Fatalf("publish failure must not fail the run: %v", err)
	}
}

func TestPipelineHistoryIsCappedAtFive(t *testing.T) {
	ex := &fakeExtractor{out: patelExtraction()}
	repo := &memRepo{}
	p := newTestPipeline(ex, repo, nil)
	var res PipelineResult
	var err error
	for i := 0; i < 7; i++ {
		res, err = p.Run(context.Background(), Request{Text: "visit"})
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	lines := strings.Split(res.State.HistorySummary, "\n")
	if len(lines) != 1+DefaultHistoryLimit {
		t.Fatalf("expected header plus %d lines, got %d", DefaultHistoryLimit, len(lines))
	}
}
