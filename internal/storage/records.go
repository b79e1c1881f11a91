package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"storyreel/internal/characters"
	"storyreel/internal/model"
)

// MovieRecord 单次运行的持久化形态。场景和角色存为jsonb整块：
// 记录每次运行写一条、整条读回，从不按场景查询。
type MovieRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	Premise     string
	Status      string `gorm:"size:16"`
	SceneCount  int
	Successful  int
	Failed      int
	Aborted     int
	Scenes      []byte `gorm:"type:jsonb"`
	Characters  []byte `gorm:"type:jsonb"`
	TotalCost   float64
	GeneratedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (MovieRecord) TableName() string { return "movie_records" }

// Open 连接postgres并迁移本服务拥有的表
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&MovieRecord{}, &characters.Row{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// RecordStore 负责最终运行记录的upsert，每次运行一条，
// 取消时也写入以保留部分进度。
type RecordStore struct {
	db  *gorm.DB
	log *logrus.Entry
}

func NewRecordStore(db *gorm.DB) *RecordStore {
	return &RecordStore{db: db, log: logrus.WithField("component", "records")}
}

// Save upsert运行记录并返回其句柄。数据库瞬时故障短暂重试后放弃。
func (s *RecordStore) Save(ctx context.Context, res *model.RunResult) (string, error) {
	scenes, err := json.Marshal(res.Scenes)
	if err != nil {
		return "", fmt.Errorf("marshal scenes: %w", err)
	}
	chars, err := json.Marshal(res.Characters)
	if err != nil {
		return "", fmt.Errorf("marshal characters: %w", err)
	}

	rec := &MovieRecord{
		ID:          res.RunID,
		Premise:     res.Premise,
		Status:      res.Status,
		SceneCount:  res.SceneCount,
		Successful:  res.Successful,
		Failed:      res.Failed,
		Aborted:     res.Aborted,
		Scenes:      scenes,
		Characters:  chars,
		TotalCost:   res.TotalCost,
		GeneratedAt: res.GeneratedAt,
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	err = backoff.Retry(func() error {
		return s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				UpdateAll: true,
			}).
			Create(rec).Error
	}, policy)
	if err != nil {
		return "", fmt.Errorf("upsert movie record: %w", err)
	}

	s.log.WithFields(logrus.Fields{"run_id": res.RunID, "status": res.Status}).Info("run record saved")
	return rec.ID, nil
}
