package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"drawn-of-war/internal/domain"
	"drawn-of-war/pkg/logger"
)

// MatchModel — строка матча.
type MatchModel struct {
	ID        string `gorm:"primaryKey"`
	Phase     string
	Result    []byte // CombatResult в JSON, пусто до окончания боя
	UpdatedAt time.Time
}

// PlayerModel — состояние расстановки одной стороны.
type PlayerModel struct {
	MatchID    string `gorm:"primaryKey"`
	PlayerID   string `gorm:"primaryKey"`
	Placements []byte // []domain.Placement в JSON
	IsReady    bool
	IsLocked   bool
	ReadyAt    *time.Time
	UpdatedAt  time.Time
}

// Store хранит расстановку матчей в SQLite.
type Store struct {
	DB *gorm.DB
}

// Open открывает (или создает) базу и прогоняет миграции.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	// Логгер gorm молчит: ошибки возвращаются вызывающему и логируются им.
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.AutoMigrate(&MatchModel{}, &PlayerModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Component("storage").WithField("path", path).Info("SQLite store opened")
	return &Store{DB: db}, nil
}

// SaveMatch делает upsert матча и обеих сторон в одной транзакции.
func (s *Store) SaveMatch(ctx context.Context, rec domain.MatchRecord) error {
	if s.DB == nil {
		return errors.New("store is not initialised")
	}

	match := MatchModel{ID: rec.MatchID, Phase: string(rec.Phase), UpdatedAt: rec.UpdatedAt}
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		match.Result = data
	}

	players := make([]PlayerModel, 0, len(rec.Players))
	for _, st := range rec.Players {
		placements := st.Placements
		if placements == nil {
			placements = []domain.Placement{}
		}
		data, err := json.Marshal(placements)
		if err != nil {
			return fmt.Errorf("encode placements of %s: %w", st.PlayerID, err)
		}
		players = append(players, PlayerModel{
			MatchID:    rec.MatchID,
			PlayerID:   string(st.PlayerID),
			Placements: data,
			IsReady:    st.IsReady,
			IsLocked:   st.IsLocked,
			ReadyAt:    st.ReadyAt,
			UpdatedAt:  rec.UpdatedAt,
		})
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Upsert (Создать или обновить)
		if err := tx.Save(&match).Error; err != nil {
			return err
		}
		for i := range players {
			if err := tx.Save(&players[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save match %s: %w", rec.MatchID, err)
	}
	return nil
}

// LoadMatch восстанавливает запись. Несохраненный матч — (_, false, nil).
func (s *Store) LoadMatch(ctx context.Context, matchID string) (domain.MatchRecord, bool, error) {
	if s.DB == nil {
		return domain.MatchRecord{}, false, errors.New("store is not initialised")
	}

	var match MatchModel
	err := s.DB.WithContext(ctx).First(&match, "id = ?", matchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.MatchRecord{}, false, nil
	}
	if err != nil {
		return domain.MatchRecord{}, false, fmt.Errorf("load match %s: %w", matchID, err)
	}

	var players []PlayerModel
	if err := s.DB.WithContext(ctx).Where("match_id = ?", matchID).Order("player_id").Find(&players).Error; err != nil {
		return domain.MatchRecord{}, false, fmt.Errorf("load players of %s: %w", matchID, err)
	}

	rec := domain.MatchRecord{
		MatchID:   match.ID,
		Phase:     domain.MatchPhase(match.Phase),
		Players:   make([]domain.PlayerDeploymentState, 0, len(players)),
		UpdatedAt: match.UpdatedAt,
	}
	if len(match.Result) > 0 {
		var res domain.CombatResult
		if err := json.Unmarshal(match.Result, &res); err != nil {
			return domain.MatchRecord{}, false, fmt.Errorf("decode result of %s: %w", matchID, err)
		}
		rec.Result = &res
	}

	for _, p := range players {
		id, ok := domain.ParsePlayerID(p.PlayerID)
		if !ok {
			logger.Component("storage").WithField("match_id", matchID).Warnf("skipping unknown player %q", p.PlayerID)
			continue
		}
		st := domain.NewPlayerDeploymentState(id)
		if err := json.Unmarshal(p.Placements, &st.Placements); err != nil {
			return domain.MatchRecord{}, false, fmt.Errorf("decode placements of %s/%s: %w", matchID, id, err)
		}
		st.IsReady = p.IsReady
		st.IsLocked = p.IsLocked
		st.ReadyAt = p.ReadyAt
		rec.Players = append(rec.Players, *st)
	}
	return rec, true, nil
}

// MatchIDs — все сохраненные матчи, от свежих к старым.
func (s *Store) MatchIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&MatchModel{}).Order("updated_at desc").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	return ids, nil
}

// Close закрывает соединение с базой.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
