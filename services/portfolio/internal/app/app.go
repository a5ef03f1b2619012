package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"appraise/internal/util"
	"appraise/pkg/ai"
	"appraise/pkg/capability"
	"appraise/pkg/domain"
	"appraise/pkg/ingest"
	"appraise/pkg/notebook"
	"appraise/pkg/prompt"
	"appraise/pkg/reply"
	"appraise/pkg/storage"
	"appraise/pkg/store"
	"appraise/pkg/usage"
)

// Texts returned by SupervisorFeedback when no feedback could be produced.
const (
	feedbackMissingKeyText = "Error: API Key missing."
	feedbackFailedText     = "Failed to generate supervisor feedback. Please try again."
	feedbackEmptyText      = "No feedback generated."
)

// Config holds runtime dependencies for the core application.
type Config struct {
	Notes     store.NoteRepository
	Usage     store.UsageRepository
	Users     store.UserStore
	Completer *ai.Completer
	// Resolve overrides the entry type resolver used on model replies.
	Resolve  domain.Resolver
	Exporter *storage.Exporter
	Now      func() time.Time
}

// App is the core application service: one Session per logged-in user,
// each holding that user's notebook and usage counter.
type App struct {
	notes     store.NoteRepository
	usage     store.UsageRepository
	users     store.UserStore
	completer *ai.Completer
	parser    reply.Parser
	exporter  *storage.Exporter
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Session is the per-user state the console works on.
type Session struct {
	mu    sync.RWMutex
	user  domain.User
	notes *notebook.Notebook
	usage *usage.Limiter
	// one generation at a time per user
	gate *semaphore.Weighted
}

// User returns a copy of the session's user.
func (s *Session) User() domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) setUser(u domain.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Notes == nil || cfg.Usage == nil || cfg.Users == nil {
		return nil, fmt.Errorf("note, usage and user stores required")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("completer required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &App{
		notes:     cfg.Notes,
		usage:     cfg.Usage,
		users:     cfg.Users,
		completer: cfg.Completer,
		parser:    reply.Parser{Resolve: cfg.Resolve},
		exporter:  cfg.Exporter,
		now:       now,
		sessions:  make(map[string]*Session),
	}, nil
}

// StartSession records the user handed over by the auth provider and loads
// their notes and usage. Stored plan and settings (default mode, custom
// key) survive a login that does not carry them.
func (a *App) StartSession(ctx context.Context, user domain.User) (*Session, error) {
	user.ID = strings.TrimSpace(user.ID)
	if user.ID == "" {
		return nil, ErrUnknownUser
	}
	stored, ok, err := a.users.GetUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	now := a.now().UTC()
	if ok {
		if user.CustomAPIKey == "" {
			user.CustomAPIKey = stored.CustomAPIKey
		}
		if user.DefaultMode == "" {
			user.DefaultMode = stored.DefaultMode
		}
		if user.Plan == "" {
			user.Plan = stored.Plan
		}
		user.CreatedAt = stored.CreatedAt
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.Plan == "" {
		user.Plan = domain.PlanFree
	}
	user.UpdatedAt = now
	if err := a.users.SaveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	sess, err := a.openSession(ctx, user)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.sessions[user.ID] = sess
	a.mu.Unlock()
	util.LoggerFromContext(ctx).Info("session started", "user_id", user.ID, "plan", user.Plan, "notes", sess.notes.Len())
	return sess, nil
}

// Session returns the live session for userID, reopening it from storage
// after a restart.
func (a *App) Session(ctx context.Context, userID string) (*Session, error) {
	a.mu.Lock()
	sess, ok := a.sessions[userID]
	a.mu.Unlock()
	if ok {
		return sess, nil
	}
	user, found, err := a.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return nil, ErrUnknownUser
	}
	sess, err = a.openSession(ctx, user)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if existing, ok := a.sessions[userID]; ok {
		return existing, nil
	}
	a.sessions[userID] = sess
	return sess, nil
}

// EndSession drops the in-memory state of a user. Stored data is kept.
func (a *App) EndSession(userID string) {
	a.mu.Lock()
	delete(a.sessions, userID)
	a.mu.Unlock()
}

func (a *App) openSession(ctx context.Context, user domain.User) (*Session, error) {
	nb, err := notebook.Open(ctx, a.notes, user.ID)
	if err != nil {
		return nil, err
	}
	lim, err := usage.Open(ctx, a.usage, user.ID, usage.WithClock(a.now))
	if err != nil {
		return nil, err
	}
	return &Session{user: user, notes: nb, usage: lim, gate: semaphore.NewWeighted(1)}, nil
}

// GenerateRequest is one console submission.
type GenerateRequest struct {
	Text string `json:"text"`
	// Mode defaults to the user's default mode.
	Mode string `json:"mode"`
	// Type is a concrete entry type or empty / "Auto-detect".
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
	Safeguarding bool     `json:"safeguarding"`
}

// GenerateResult is the saved note plus the usage after the call.
// Failed is set when the note content is an error text.
type GenerateResult struct {
	Note      domain.Note       `json:"note"`
	Failed    bool              `json:"failed"`
	Usage     domain.UsageStats `json:"usage"`
	Remaining int               `json:"remaining"`
}

// Generate turns raw text into a saved portfolio note.
func (a *App) Generate(ctx context.Context, userID string, req GenerateRequest) (GenerateResult, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return GenerateResult{}, err
	}
	if !sess.gate.TryAcquire(1) {
		return GenerateResult{}, ErrGenerationInProgress
	}
	defer sess.gate.Release(1)

	if strings.TrimSpace(req.Text) == "" {
		return GenerateResult{}, ErrEmptyInput
	}
	user := sess.User()
	mode, err := resolveMode(req.Mode, user)
	if err != nil {
		return GenerateResult{}, err
	}
	requested, ok := domain.ParseEntryType(req.Type)
	if !ok {
		return GenerateResult{}, fmt.Errorf("%w: %q", ErrInvalidEntryType, req.Type)
	}
	if sess.usage.IsLimitReached(user.Plan) {
		return GenerateResult{}, ErrLimitReached
	}

	logger := util.LoggerFromContext(ctx).With("user_id", userID)
	caps := prompt.LimitCapabilities(req.Capabilities)
	p := prompt.Build(prompt.Request{Text: req.Text, Mode: mode, Type: requested, Capabilities: caps})
	completion := a.completer.Complete(ctx, user.CustomAPIKey, p.System, p.User)

	content := completion.Text
	var aiTags []string
	detected := domain.DefaultEntryType
	if !completion.Failed {
		parsed := a.parser.Parse(completion.Text)
		content = parsed.Content
		aiTags = parsed.Tags
		detected = parsed.DetectedType
	} else {
		logger.Warn("generation failed", "err", completion.Err)
	}

	stats, err := sess.usage.Increment(ctx)
	if err != nil {
		return GenerateResult{}, err
	}

	finalType := requested
	if finalType.IsAutoDetect() || !finalType.IsConcrete() {
		finalType = detected
	}
	if !finalType.IsConcrete() {
		finalType = domain.DefaultEntryType
	}

	tags := make([]string, 0, len(aiTags)+len(caps)+3)
	tags = append(tags, aiTags...)
	tags = append(tags, caps...)
	tags = append(tags, string(mode), string(finalType))
	if req.Safeguarding {
		tags = append(tags, domain.SafeguardingTag)
	}

	// title date and dateCreated share UTC so date search finds the title's day
	now := a.now().UTC()
	note := domain.Note{
		ID:          util.NewID(),
		Title:       domain.NoteTitle(finalType, req.Text, now),
		Content:     content,
		RawInput:    req.Text,
		DateCreated: now,
		Tags:        domain.NormalizeTags(tags),
		Mode:        mode,
		Type:        finalType,
	}
	if err := sess.notes.Add(ctx, note); err != nil {
		return GenerateResult{}, fmt.Errorf("save note: %w", err)
	}
	logger.Info("note generated", "note_id", note.ID, "type", finalType, "failed", completion.Failed, "usage", stats.Count)
	return GenerateResult{
		Note:      note,
		Failed:    completion.Failed,
		Usage:     stats,
		Remaining: max(usage.Limit(user.Plan)-stats.Count, 0),
	}, nil
}

// RefineRequest asks for a polished rewrite of an existing draft.
type RefineRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
	Type string `json:"type"`
}

// Refine rewrites a draft. Any failure, including a missing key, returns
// the draft unchanged. Refining does not count towards usage.
func (a *App) Refine(ctx context.Context, userID string, req RefineRequest) (string, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyInput
	}
	user := sess.User()
	mode, err := resolveMode(req.Mode, user)
	if err != nil {
		return "", err
	}
	t, ok := domain.ParseEntryType(req.Type)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, req.Type)
	}
	p := prompt.BuildRefine(req.Text, mode, t)
	completion := a.completer.Complete(ctx, user.CustomAPIKey, p.System, p.User)
	if completion.Failed {
		util.LoggerFromContext(ctx).Warn("refine failed", "user_id", userID, "err", completion.Err)
		return req.Text, nil
	}
	return reply.StripLegacyTags(completion.Text), nil
}

// SupervisorFeedback reviews a reflection the way an educational
// supervisor would. It never fails on provider errors; the returned text
// says what went wrong instead.
func (a *App) SupervisorFeedback(ctx context.Context, userID, text string) (string, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyInput
	}
	p := prompt.BuildFeedback(text)
	completion := a.completer.Complete(ctx, sess.User().CustomAPIKey, p.System, p.User)
	switch {
	case !completion.Failed:
		return completion.Text, nil
	case errors.Is(completion.Err, ai.ErrMissingAPIKey):
		return feedbackMissingKeyText, nil
	case errors.Is(completion.Err, ai.ErrEmptyResponse):
		return feedbackEmptyText, nil
	default:
		util.LoggerFromContext(ctx).Warn("supervisor feedback failed", "user_id", userID, "err", completion.Err)
		return feedbackFailedText, nil
	}
}

// NotesView is the notes list with the current selection.
type NotesView struct {
	Notes      []domain.Note `json:"notes"`
	SelectedID string        `json:"selectedId,omitempty"`
}

// ListNotes returns notes newest first, filtered by query and mode.
// An empty mode matches every note.
func (a *App) ListNotes(ctx context.Context, userID, query, mode string) (NotesView, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return NotesView{}, err
	}
	var m domain.Mode
	if strings.TrimSpace(mode) != "" && !strings.EqualFold(strings.TrimSpace(mode), "all") {
		parsed, ok := domain.ParseMode(mode)
		if !ok {
			return NotesView{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
		}
		m = parsed
	}
	return NotesView{Notes: sess.notes.Filter(query, m), SelectedID: sess.notes.SelectedID()}, nil
}

// FolderView groups notes by entry type the way the sidebar shows them.
// A non-empty search narrows the notes first.
func (a *App) FolderView(ctx context.Context, userID, search string) ([]notebook.Folder, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return nil, err
	}
	return notebook.Group(sess.notes.Search(search)), nil
}

// GetNote returns a note and makes it the selected one.
func (a *App) GetNote(ctx context.Context, userID, noteID string) (domain.Note, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return domain.Note{}, err
	}
	note, ok := sess.notes.Get(noteID)
	if !ok {
		return domain.Note{}, ErrNoteNotFound
	}
	sess.notes.Select(noteID)
	return note, nil
}

// NoteUpdate carries the editable fields of a note; nil fields are kept.
type NoteUpdate struct {
	Title   *string   `json:"title"`
	Content *string   `json:"content"`
	Tags    *[]string `json:"tags"`
	Type    *string   `json:"type"`
	Mode    *string   `json:"mode"`
}

// UpdateNote applies an edit. id and dateCreated never change.
func (a *App) UpdateNote(ctx context.Context, userID, noteID string, upd NoteUpdate) (domain.Note, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return domain.Note{}, err
	}
	var newType domain.EntryType
	if upd.Type != nil {
		t, ok := domain.ParseEntryType(*upd.Type)
		if !ok || !t.IsConcrete() {
			return domain.Note{}, fmt.Errorf("%w: %q", ErrInvalidEntryType, *upd.Type)
		}
		newType = t
	}
	var newMode domain.Mode
	if upd.Mode != nil {
		m, ok := domain.ParseMode(*upd.Mode)
		if !ok {
			return domain.Note{}, fmt.Errorf("%w: %q", ErrInvalidMode, *upd.Mode)
		}
		newMode = m
	}
	note, err := sess.notes.Patch(ctx, noteID, func(n *domain.Note) error {
		if upd.Title != nil {
			n.Title = *upd.Title
		}
		if upd.Content != nil {
			n.Content = *upd.Content
		}
		if upd.Tags != nil {
			n.Tags = *upd.Tags
		}
		if newType != "" {
			n.Type = newType
		}
		if newMode != "" {
			n.Mode = newMode
		}
		return nil
	})
	if err != nil {
		return domain.Note{}, mapNotebookErr(err)
	}
	return note, nil
}

// DeleteNote removes a note.
func (a *App) DeleteNote(ctx context.Context, userID, noteID string) error {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return err
	}
	removed, err := sess.notes.Delete(ctx, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if !removed {
		return ErrNoteNotFound
	}
	return nil
}

// AddTag attaches a tag to a note.
func (a *App) AddTag(ctx context.Context, userID, noteID, tag string) (domain.Note, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return domain.Note{}, err
	}
	note, err := sess.notes.AddTag(ctx, noteID, tag)
	return note, mapNotebookErr(err)
}

// RemoveTag detaches a tag from a note.
func (a *App) RemoveTag(ctx context.Context, userID, noteID, tag string) (domain.Note, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return domain.Note{}, err
	}
	note, err := sess.notes.RemoveTag(ctx, noteID, tag)
	return note, mapNotebookErr(err)
}

func mapNotebookErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, notebook.ErrNoteNotFound):
		return ErrNoteNotFound
	case errors.Is(err, notebook.ErrInvalidTag):
		return ErrInvalidTag
	}
	return err
}

// CapabilitiesView is the coverage table for one mode.
type CapabilitiesView struct {
	Mode domain.Mode      `json:"mode"`
	Rows []capability.Row `json:"rows"`
}

// Capabilities reports evidence coverage per capability. An empty mode uses
// the user's default.
func (a *App) Capabilities(ctx context.Context, userID, mode string) (CapabilitiesView, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return CapabilitiesView{}, err
	}
	m, err := resolveMode(mode, sess.User())
	if err != nil {
		return CapabilitiesView{}, err
	}
	return CapabilitiesView{Mode: m, Rows: capability.Coverage(sess.notes.Sorted(), m)}, nil
}

// UsageView is the counter as the sidebar shows it.
type UsageView struct {
	Plan         domain.Plan `json:"plan"`
	Count        int         `json:"count"`
	Limit        int         `json:"limit"`
	Remaining    int         `json:"remaining"`
	LimitReached bool        `json:"limitReached"`
	Date         string      `json:"lastResetDate"`
}

// Usage returns the effective usage for today.
func (a *App) Usage(ctx context.Context, userID string) (UsageView, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return UsageView{}, err
	}
	plan := sess.User().Plan
	stats := sess.usage.Stats()
	return UsageView{
		Plan:         plan,
		Count:        stats.Count,
		Limit:        usage.Limit(plan),
		Remaining:    sess.usage.Remaining(plan),
		LimitReached: sess.usage.IsLimitReached(plan),
		Date:         stats.LastResetDate,
	}, nil
}

// Settings are the user-editable profile fields; nil fields are kept.
// An empty CustomAPIKey clears the key.
type Settings struct {
	DefaultMode  *string `json:"defaultMode"`
	CustomAPIKey *string `json:"customApiKey"`
}

// UpdateSettings saves the user's settings.
func (a *App) UpdateSettings(ctx context.Context, userID string, s Settings) (domain.User, error) {
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	user := sess.User()
	if s.DefaultMode != nil {
		m, ok := domain.ParseMode(*s.DefaultMode)
		if !ok {
			return domain.User{}, fmt.Errorf("%w: %q", ErrInvalidMode, *s.DefaultMode)
		}
		user.DefaultMode = m
	}
	if s.CustomAPIKey != nil {
		user.CustomAPIKey = strings.TrimSpace(*s.CustomAPIKey)
	}
	user.UpdatedAt = a.now().UTC()
	if err := a.users.SaveUser(ctx, user); err != nil {
		return domain.User{}, fmt.Errorf("save user: %w", err)
	}
	sess.setUser(user)
	return user, nil
}

// ExportNotes uploads a snapshot of every note and returns a download link.
func (a *App) ExportNotes(ctx context.Context, userID string) (storage.Export, error) {
	if a.exporter == nil {
		return storage.Export{}, ErrExportDisabled
	}
	sess, err := a.Session(ctx, userID)
	if err != nil {
		return storage.Export{}, err
	}
	exp, err := a.exporter.ExportNotes(ctx, userID, sess.notes.Sorted())
	if err != nil {
		return storage.Export{}, fmt.Errorf("export notes: %w", err)
	}
	util.LoggerFromContext(ctx).Info("notes exported", "user_id", userID, "key", exp.Key, "count", exp.Count)
	return exp, nil
}

// ImportSource extracts raw input text from an uploaded document.
func (a *App) ImportSource(ctx context.Context, userID, filename string, r io.Reader) (ingest.Source, error) {
	if _, err := a.Session(ctx, userID); err != nil {
		return ingest.Source{}, err
	}
	return ingest.Extract(filename, r)
}

func resolveMode(raw string, user domain.User) (domain.Mode, error) {
	if strings.TrimSpace(raw) == "" {
		return user.EffectiveMode(), nil
	}
	m, ok := domain.ParseMode(raw)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
	return m, nil
}

// DevUser is the fixed account issued by the development login.
func DevUser() domain.User {
	return domain.User{
		ID:          "dev_user_123",
		Email:       "dev@local.test",
		Name:        "Dr. Dev User",
		PhotoURL:    "https://ui-avatars.com/api/?name=Dev+User&background=0D8ABC&color=fff",
		Provider:    "google",
		Plan:        domain.PlanPlus,
		DefaultMode: domain.ModeGP,
	}
}
