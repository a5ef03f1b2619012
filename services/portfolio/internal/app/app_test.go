package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"appraise/pkg/ai"
	"appraise/pkg/domain"
	"appraise/pkg/store"
)

type fakeGenerator struct {
	calls atomic.Int32
	fn    func(ctx context.Context, system, user string) (string, error)
}

func (f *fakeGenerator) GenerateText(ctx context.Context, system, user string) (string, error) {
	f.calls.Add(1)
	return f.fn(ctx, system, user)
}

func fakeReply(text string) *fakeGenerator {
	return &fakeGenerator{fn: func(context.Context, string, string) (string, error) { return text, nil }}
}

var fixedNow = time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC)

func newTestApp(t *testing.T, gen ai.TextGenerator, defaultKey string) (*App, store.KV) {
	t.Helper()
	kv := store.NewMemoryKV()
	a, err := New(Config{
		Notes:     store.NewKVNoteRepository(kv),
		Usage:     store.NewKVUsageRepository(kv),
		Users:     store.NewKVUserStore(kv),
		Completer: ai.NewCompleter(gen, defaultKey, true),
		Now:       func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, kv
}

func startUser(t *testing.T, a *App, plan domain.Plan) domain.User {
	t.Helper()
	u := domain.User{ID: "u1", Email: "doc@example.test", Name: "Dr Test", Plan: plan, DefaultMode: domain.ModeGP}
	if _, err := a.StartSession(context.Background(), u); err != nil {
		t.Fatalf("start session: %v", err)
	}
	return u
}

const dopsReply = "Form type: [DOPS]\n\n**Procedure:** Lumbar puncture\n\n```json\n[\"Procedural Skills\", \"Auto-detect\", \"Consent\"]\n```"

func TestGenerateAutoDetectBuildsNote(t *testing.T) {
	gen := fakeReply(dopsReply)
	a, _ := newTestApp(t, gen, "sk-test")
	startUser(t, a, domain.PlanFree)

	res, err := a.Generate(context.Background(), "u1", GenerateRequest{
		Text:         "Performed lumbar puncture under supervision on the ward today",
		Capabilities: []string{"Clinical management", "Teamworking"},
		Safeguarding: true,
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	n := res.Note
	if res.Failed {
		t.Fatalf("unexpected failure: %q", n.Content)
	}
	if n.Type != domain.EntryDOPS || n.Mode != domain.ModeGP {
		t.Fatalf("type=%q mode=%q", n.Type, n.Mode)
	}
	want := []string{"Procedural Skills", "Consent", "Clinical management", "Teamworking", "GP", "DOPS (Procedure)", "Safeguarding"}
	if strings.Join(n.Tags, "|") != strings.Join(want, "|") {
		t.Fatalf("tags = %v, want %v", n.Tags, want)
	}
	if strings.Contains(n.Content, "```") {
		t.Fatalf("tag block left in content: %q", n.Content)
	}
	if !strings.HasPrefix(n.Title, "[DOPS (Procedure)] Performed lumbar puncture") || !strings.HasSuffix(n.Title, "[04/03/2025]") {
		t.Fatalf("title = %q", n.Title)
	}
	if n.ID == "" || !n.DateCreated.Equal(fixedNow) {
		t.Fatalf("id=%q date=%v", n.ID, n.DateCreated)
	}
	if res.Usage.Count != 1 || res.Remaining != 1 {
		t.Fatalf("usage=%+v remaining=%d", res.Usage, res.Remaining)
	}

	view, err := a.ListNotes(context.Background(), "u1", "", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(view.Notes) != 1 || view.SelectedID != n.ID {
		t.Fatalf("view = %+v", view)
	}
}

func TestGenerateExplicitTypeWins(t *testing.T) {
	a, _ := newTestApp(t, fakeReply(dopsReply), "sk-test")
	startUser(t, a, domain.PlanFree)
	res, err := a.Generate(context.Background(), "u1", GenerateRequest{Text: "reflection on a difficult call", Type: "Reflection", Mode: "hospital"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Note.Type != domain.EntryReflection || res.Note.Mode != domain.ModeHospital {
		t.Fatalf("note type=%q mode=%q", res.Note.Type, res.Note.Mode)
	}
}

func TestGenerateValidation(t *testing.T) {
	a, _ := newTestApp(t, fakeReply(dopsReply), "sk-test")
	startUser(t, a, domain.PlanFree)
	ctx := context.Background()
	if _, err := a.Generate(ctx, "u1", GenerateRequest{Text: "   "}); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("empty input err = %v", err)
	}
	if _, err := a.Generate(ctx, "u1", GenerateRequest{Text: "x", Mode: "surgery"}); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("mode err = %v", err)
	}
	if _, err := a.Generate(ctx, "u1", GenerateRequest{Text: "x", Type: "Haiku"}); !errors.Is(err, ErrInvalidEntryType) {
		t.Fatalf("type err = %v", err)
	}
	if _, err := a.Generate(ctx, "nobody", GenerateRequest{Text: "x"}); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestGenerateStopsAtFreeLimit(t *testing.T) {
	gen := fakeReply(dopsReply)
	a, _ := newTestApp(t, gen, "sk-test")
	startUser(t, a, domain.PlanFree)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := a.Generate(ctx, "u1", GenerateRequest{Text: "case"}); err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
	}
	if _, err := a.Generate(ctx, "u1", GenerateRequest{Text: "case"}); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("third generate err = %v", err)
	}
	if got := gen.calls.Load(); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}
	u, err := a.Usage(ctx, "u1")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if !u.LimitReached || u.Remaining != 0 || u.Limit != 2 {
		t.Fatalf("usage view = %+v", u)
	}
}

func TestGenerateProviderErrorStillSavesAndCounts(t *testing.T) {
	gen := &fakeGenerator{fn: func(context.Context, string, string) (string, error) {
		return "", &ai.StatusError{Provider: "openai-compat", Code: 503}
	}}
	a, _ := newTestApp(t, gen, "sk-test")
	startUser(t, a, domain.PlanFree)
	res, err := a.Generate(context.Background(), "u1", GenerateRequest{Text: "chest pain in clinic"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !res.Failed || res.Note.Content != "Error calling AI Provider: Service Unavailable" {
		t.Fatalf("failed=%v content=%q", res.Failed, res.Note.Content)
	}
	if res.Note.Type != domain.EntryClinicalCase || res.Usage.Count != 1 {
		t.Fatalf("type=%q usage=%+v", res.Note.Type, res.Usage)
	}
	if strings.Join(res.Note.Tags, "|") != "GP|Clinical Case" {
		t.Fatalf("tags = %v", res.Note.Tags)
	}
}

func TestGenerateMissingKeySkipsProvider(t *testing.T) {
	gen := fakeReply(dopsReply)
	a, _ := newTestApp(t, gen, "")
	startUser(t, a, domain.PlanFree)
	res, err := a.Generate(context.Background(), "u1", GenerateRequest{Text: "case"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Note.Content != ai.MissingKeyText || gen.calls.Load() != 0 {
		t.Fatalf("content=%q calls=%d", res.Note.Content, gen.calls.Load())
	}

	key := "sk-user"
	if _, err := a.UpdateSettings(context.Background(), "u1", Settings{CustomAPIKey: &key}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	res, err = a.Generate(context.Background(), "u1", GenerateRequest{Text: "case"})
	if err != nil || res.Failed {
		t.Fatalf("generate with user key: err=%v failed=%v", err, res.Failed)
	}
}

func TestGenerateOneAtATime(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := &fakeGenerator{fn: func(context.Context, string, string) (string, error) {
		close(started)
		<-release
		return dopsReply, nil
	}}
	a, _ := newTestApp(t, gen, "sk-test")
	startUser(t, a, domain.PlanPlus)

	done := make(chan error, 1)
	go func() {
		_, err := a.Generate(context.Background(), "u1", GenerateRequest{Text: "first"})
		done <- err
	}()
	<-started
	if _, err := a.Generate(context.Background(), "u1", GenerateRequest{Text: "second"}); !errors.Is(err, ErrGenerationInProgress) {
		t.Fatalf("second generate err = %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first generate: %v", err)
	}
}

func TestRefine(t *testing.T) {
	a, _ := newTestApp(t, fakeReply("Polished draft.\n[[tag-a, tag-b]]"), "sk-test")
	startUser(t, a, domain.PlanFree)
	got, err := a.Refine(context.Background(), "u1", RefineRequest{Text: "rough draft", Type: "Reflection"})
	if err != nil || got != "Polished draft." {
		t.Fatalf("refine = %q, %v", got, err)
	}

	failing := &fakeGenerator{fn: func(context.Context, string, string) (string, error) {
		return "", errors.New("dial tcp: refused")
	}}
	a2, _ := newTestApp(t, failing, "sk-test")
	startUser(t, a2, domain.PlanFree)
	got, err = a2.Refine(context.Background(), "u1", RefineRequest{Text: "rough draft"})
	if err != nil || got != "rough draft" {
		t.Fatalf("refine on failure = %q, %v", got, err)
	}
	u, _ := a2.Usage(context.Background(), "u1")
	if u.Count != 0 {
		t.Fatalf("refine counted usage: %+v", u)
	}
}

func TestSupervisorFeedbackTexts(t *testing.T) {
	a, _ := newTestApp(t, fakeReply("### 1. Supervisor Summary"), "")
	startUser(t, a, domain.PlanFree)
	got, err := a.SupervisorFeedback(context.Background(), "u1", "my reflection")
	if err != nil || got != feedbackMissingKeyText {
		t.Fatalf("missing key feedback = %q, %v", got, err)
	}

	empty := &fakeGenerator{fn: func(context.Context, string, string) (string, error) { return "", ai.ErrEmptyResponse }}
	a2, _ := newTestApp(t, empty, "sk-test")
	startUser(t, a2, domain.PlanFree)
	if got, _ := a2.SupervisorFeedback(context.Background(), "u1", "my reflection"); got != feedbackEmptyText {
		t.Fatalf("empty feedback = %q", got)
	}

	ok, _ := newTestApp(t, fakeReply("### 1. Supervisor Summary"), "sk-test")
	startUser(t, ok, domain.PlanFree)
	if got, _ := ok.SupervisorFeedback(context.Background(), "u1", "my reflection"); got != "### 1. Supervisor Summary" {
		t.Fatalf("feedback = %q", got)
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	a, kv := newTestApp(t, fakeReply(dopsReply), "sk-test")
	startUser(t, a, domain.PlanFree)
	ctx := context.Background()
	key := "sk-mine"
	if _, err := a.UpdateSettings(ctx, "u1", Settings{CustomAPIKey: &key}); err != nil {
		t.Fatalf("settings: %v", err)
	}
	res, err := a.Generate(ctx, "u1", GenerateRequest{Text: "case"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	restarted, err := New(Config{
		Notes:     store.NewKVNoteRepository(kv),
		Usage:     store.NewKVUsageRepository(kv),
		Users:     store.NewKVUserStore(kv),
		Completer: ai.NewCompleter(fakeReply(dopsReply), "", true),
		Now:       func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	// a fresh login without settings keeps the stored key
	sess, err := restarted.StartSession(ctx, domain.User{ID: "u1", Plan: domain.PlanFree})
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if sess.User().CustomAPIKey != key || sess.User().DefaultMode != domain.ModeGP {
		t.Fatalf("settings lost: %+v", sess.User())
	}
	note, err := restarted.GetNote(ctx, "u1", res.Note.ID)
	if err != nil || note.Content != res.Note.Content {
		t.Fatalf("note after restart = %+v, %v", note, err)
	}
	u, _ := restarted.Usage(ctx, "u1")
	if u.Count != 1 {
		t.Fatalf("usage after restart = %+v", u)
	}
}

func TestNoteEditing(t *testing.T) {
	a, _ := newTestApp(t, fakeReply(dopsReply), "sk-test")
	startUser(t, a, domain.PlanPlus)
	ctx := context.Background()
	res, err := a.Generate(ctx, "u1", GenerateRequest{Text: "case"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id := res.Note.ID

	content := "edited"
	typ := "Mini-CEX"
	note, err := a.UpdateNote(ctx, "u1", id, NoteUpdate{Content: &content, Type: &typ})
	if err != nil || note.Content != "edited" || note.Type != domain.EntryMiniCEX || !note.DateCreated.Equal(res.Note.DateCreated) {
		t.Fatalf("update = %+v, %v", note, err)
	}
	bad := "Auto-detect"
	if _, err := a.UpdateNote(ctx, "u1", id, NoteUpdate{Type: &bad}); !errors.Is(err, ErrInvalidEntryType) {
		t.Fatalf("auto-detect type err = %v", err)
	}
	if _, err := a.UpdateNote(ctx, "u1", "missing", NoteUpdate{Content: &content}); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("unknown update err = %v", err)
	}

	note, err = a.AddTag(ctx, "u1", id, "Leadership")
	if err != nil || !note.HasTag("Leadership") {
		t.Fatalf("add tag = %v, %v", note.Tags, err)
	}
	if _, err := a.AddTag(ctx, "u1", id, "autodetect:dops"); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("sentinel tag err = %v", err)
	}
	note, err = a.RemoveTag(ctx, "u1", id, "Leadership")
	if err != nil || note.HasTag("Leadership") {
		t.Fatalf("remove tag = %v, %v", note.Tags, err)
	}

	folders, err := a.FolderView(ctx, "u1", "")
	if err != nil || len(folders) != 1 || folders[0].Label != string(domain.EntryMiniCEX) {
		t.Fatalf("folders = %+v, %v", folders, err)
	}

	if err := a.DeleteNote(ctx, "u1", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := a.DeleteNote(ctx, "u1", id); !errors.Is(err, ErrNoteNotFound) {
		t.Fatalf("second delete err = %v", err)
	}
}

func TestUpdateNoteKeepsConcurrentTagEdits(t *testing.T) {
	a, _ := newTestApp(t, fakeReply(dopsReply), "sk-test")
	startUser(t, a, domain.PlanPlus)
	ctx := context.Background()
	res, err := a.Generate(ctx, "u1", GenerateRequest{Text: "case"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	before := len(res.Note.Tags)

	var wg sync.WaitGroup
	for i := range 15 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := a.AddTag(ctx, "u1", res.Note.ID, fmt.Sprintf("extra-%d", i)); err != nil {
				t.Errorf("add tag: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			content := fmt.Sprintf("revision %d", i)
			if _, err := a.UpdateNote(ctx, "u1", res.Note.ID, NoteUpdate{Content: &content}); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()
	note, err := a.GetNote(ctx, "u1", res.Note.ID)
	if err != nil || len(note.Tags) != before+15 {
		t.Fatalf("tags = %v (want %d), err %v", note.Tags, before+15, err)
	}
}

func TestTitleDateMatchesSearchAcrossMidnight(t *testing.T) {
	// 23:30 in New York on 4 March is 04:30 UTC on 5 March.
	ny := time.FixedZone("EST", -5*60*60)
	late := time.Date(2025, 3, 4, 23, 30, 0, 0, ny)
	kv := store.NewMemoryKV()
	a, err := New(Config{
		Notes:     store.NewKVNoteRepository(kv),
		Usage:     store.NewKVUsageRepository(kv),
		Users:     store.NewKVUserStore(kv),
		Completer: ai.NewCompleter(fakeReply(dopsReply), "sk-test", true),
		Now:       func() time.Time { return late },
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	startUser(t, a, domain.PlanPlus)
	ctx := context.Background()
	res, err := a.Generate(ctx, "u1", GenerateRequest{Text: "night shift"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasSuffix(res.Note.Title, "[05/03/2025]") {
		t.Fatalf("title = %q", res.Note.Title)
	}
	folders, err := a.FolderView(ctx, "u1", "05/03/2025")
	if err != nil || len(folders) != 1 || len(folders[0].Notes) != 1 {
		t.Fatalf("search by title date = %+v, %v", folders, err)
	}
}

func TestCapabilitiesAndExport(t *testing.T) {
	a, _ := newTestApp(t, fakeReply(dopsReply), "sk-test")
	startUser(t, a, domain.PlanPlus)
	ctx := context.Background()
	if _, err := a.Generate(ctx, "u1", GenerateRequest{Text: "case", Capabilities: []string{"Communicating and Consulting"}}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	view, err := a.Capabilities(ctx, "u1", "")
	if err != nil || view.Mode != domain.ModeGP {
		t.Fatalf("capabilities = %+v, %v", view, err)
	}
	var found bool
	for _, row := range view.Rows {
		if row.Capability == "Communicating and Consulting" {
			found = row.Count == 1 && row.Progress == 20
		}
	}
	if !found {
		t.Fatalf("coverage rows = %+v", view.Rows)
	}
	if _, err := a.ExportNotes(ctx, "u1"); !errors.Is(err, ErrExportDisabled) {
		t.Fatalf("export err = %v", err)
	}
}

func TestImportSource(t *testing.T) {
	a, _ := newTestApp(t, fakeReply(dopsReply), "sk-test")
	startUser(t, a, domain.PlanFree)
	src, err := a.ImportSource(context.Background(), "u1", "letter.txt", strings.NewReader("Discharge summary\n\nStable."))
	if err != nil || !strings.Contains(src.Text, "Discharge summary") {
		t.Fatalf("import = %+v, %v", src, err)
	}
}
