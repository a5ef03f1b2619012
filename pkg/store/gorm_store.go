package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"appraise/pkg/domain"
)

const migrateLockID int64 = 41022611

// GormStore implements NoteRepository, UsageRepository and UserStore on Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &NoteModel{}, &UsageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return NewGormStoreWithDB(db), nil
}

// NewGormStoreWithDB wraps an already-migrated connection.
func NewGormStoreWithDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// ListNotes returns a user's notes newest insertion first.
func (s *GormStore) ListNotes(ctx context.Context, userID string) ([]domain.Note, error) {
	var models []NoteModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("position DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Note, 0, len(models))
	for _, m := range models {
		res = append(res, noteFromModel(m))
	}
	return res, nil
}

// SaveNote inserts a note at the head or updates it in place.
func (s *GormStore) SaveNote(ctx context.Context, userID string, n domain.Note) error {
	model, err := noteToModel(userID, n)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing NoteModel
		err := tx.Select("position").First(&existing, "id = ? AND user_id = ?", n.ID, userID).Error
		switch {
		case err == nil:
			model.Position = existing.Position
		case errors.Is(err, gorm.ErrRecordNotFound):
			var maxPos sql.NullInt64
			if err := tx.Model(&NoteModel{}).Where("user_id = ?", userID).
				Select("MAX(position)").Scan(&maxPos).Error; err != nil {
				return err
			}
			model.Position = maxPos.Int64 + 1
		default:
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "content", "raw_input", "tags", "mode", "type", "updated_at"}),
		}).Create(&model).Error
	})
}

// DeleteNote removes a note; deleting a missing note is not an error.
func (s *GormStore) DeleteNote(ctx context.Context, userID, noteID string) error {
	return s.db.WithContext(ctx).Where("id = ? AND user_id = ?", noteID, userID).Delete(&NoteModel{}).Error
}

// GetUsage returns zero stats for a user without a row.
func (s *GormStore) GetUsage(ctx context.Context, userID string) (domain.UsageStats, error) {
	var model UsageModel
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UsageStats{}, nil
		}
		return domain.UsageStats{}, err
	}
	return domain.UsageStats{Count: model.Count, LastResetDate: model.LastResetDate}, nil
}

// SaveUsage upserts the counter.
func (s *GormStore) SaveUsage(ctx context.Context, userID string, stats domain.UsageStats) error {
	model := UsageModel{UserID: userID, Count: stats.Count, LastResetDate: stats.LastResetDate, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"count", "last_reset_date", "updated_at"}),
	}).Create(&model).Error
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "name", "photo_url", "provider", "plan", "default_mode", "custom_api_key", "updated_at"}),
	}).Create(&model).Error
}

func noteToModel(userID string, n domain.Note) (NoteModel, error) {
	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return NoteModel{}, fmt.Errorf("encode tags: %w", err)
	}
	return NoteModel{
		ID:          n.ID,
		UserID:      userID,
		Title:       n.Title,
		Content:     n.Content,
		RawInput:    n.RawInput,
		Tags:        datatypes.JSON(rawTags),
		Mode:        string(n.Mode),
		Type:        string(n.Type),
		DateCreated: n.DateCreated.UTC(),
		UpdatedAt:   time.Now().UTC(),
	}, nil
}

func noteFromModel(m NoteModel) domain.Note {
	tags := []string{}
	if len(m.Tags) > 0 {
		_ = json.Unmarshal(m.Tags, &tags)
	}
	return domain.Note{
		ID:          m.ID,
		Title:       m.Title,
		Content:     m.Content,
		RawInput:    m.RawInput,
		DateCreated: m.DateCreated,
		Tags:        tags,
		Mode:        domain.Mode(m.Mode),
		Type:        domain.EntryType(m.Type),
	}
}

func userToModel(u domain.User) UserModel {
	now := time.Now().UTC()
	created := u.CreatedAt
	if created.IsZero() {
		created = now
	}
	plan := u.Plan
	if plan == "" {
		plan = domain.PlanFree
	}
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		PhotoURL:     u.PhotoURL,
		Provider:     u.Provider,
		Plan:         string(plan),
		DefaultMode:  string(u.DefaultMode),
		CustomAPIKey: u.CustomAPIKey,
		CreatedAt:    created,
		UpdatedAt:    now,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		PhotoURL:     m.PhotoURL,
		Provider:     m.Provider,
		Plan:         domain.Plan(m.Plan),
		DefaultMode:  domain.Mode(m.DefaultMode),
		CustomAPIKey: m.CustomAPIKey,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
