package characters

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"storyreel/internal/model"
)

// Row 角色表，列名风格与运行记录表一致
type Row struct {
	ID                string `gorm:"primaryKey;size:64"`
	Name              string `gorm:"size:128"`
	BaseStyle         string
	Personality       string
	ReferenceImageURL string
	VisualDetails     string
}

func (Row) TableName() string { return "characters" }

// Store 从postgres按ID列表加载角色。运行绝不允许仅因角色查询失败
// 而失败，所以任何错误或缺失都退化为合成的占位角色。
type Store struct {
	db  *gorm.DB
	log *logrus.Entry
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, log: logrus.WithField("component", "characters")}
}

// Resolve 按请求顺序返回每个ID对应的角色
func (s *Store) Resolve(ctx context.Context, ids []string) ([]model.Character, error) {
	byID := make(map[string]model.Character, len(ids))

	if s.db != nil {
		var rows []Row
		err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error
		if err != nil {
			s.log.WithError(err).Warn("character lookup failed, using placeholders")
		} else {
			for _, r := range rows {
				byID[r.ID] = model.Character{
					ID:                r.ID,
					Name:              r.Name,
					BaseStyle:         r.BaseStyle,
					Personality:       r.Personality,
					ReferenceImageURL: r.ReferenceImageURL,
					VisualDetails:     r.VisualDetails,
				}
			}
		}
	}

	out := make([]model.Character, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
			continue
		}
		out = append(out, Placeholder(id))
	}
	return out, nil
}

// Placeholder 仅凭ID合成确定性的占位角色
func Placeholder(id string) model.Character {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return model.Character{
		ID:          id,
		Name:        fmt.Sprintf("Character %s", strings.ToUpper(short)),
		BaseStyle:   "cinematic realistic, neutral wardrobe",
		Personality: "composed and purposeful",
	}
}
