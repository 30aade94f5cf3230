package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"admoderation/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// DecisionRecord 一条已落库的审核决定。
//
// EventID 唯一，重复投递的事件只会保存一次。
type DecisionRecord struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time // 落库时间

	EventID   string    `gorm:"type:varchar(64);uniqueIndex;not null"` // 事件唯一标识
	BatchID   string    `gorm:"type:varchar(64);index"`                // 批量决定标识，单条决定为空
	AdID      int64     `gorm:"index;not null"`                        // 广告 id
	Action    string    `gorm:"type:varchar(32);not null"`             // approve / reject / requestChanges
	Reason    string    `gorm:"type:varchar(128)"`                     // 原因
	Comment   string    `gorm:"type:text"`                             // 评论
	Status    string    `gorm:"type:varchar(32)"`                      // 决定后的广告状态
	DecidedAt time.Time `gorm:"index"`                                 // 后端确认时间
}

// Store 审核记录存储。
type Store struct {
	db *gorm.DB
}

// Open 连接 MySQL 并迁移表结构。
//
// 参数:
//
//	dsn: MySQL 连接字符串
//
// 返回值:
//
//	*Store: 存储实例
//	error: 连接或迁移失败时返回
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.AutoMigrate(&DecisionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore 使用已有的连接创建存储。
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Persist 保存一条决定事件，已存在的 EventID 会被忽略。
func (s *Store) Persist(ctx context.Context, ev model.DecisionEvent) error {
	rec := RecordFromEvent(ev)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("persist decision %s: %w", ev.EventID, err)
	}
	return nil
}

// History 按时间倒序返回某条广告的决定记录。
func (s *Store) History(ctx context.Context, adID int64, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	records := []DecisionRecord{}
	err := s.db.WithContext(ctx).
		Where("ad_id = ?", adID).
		Order("decided_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return records, nil
}

// Ping 检查数据库连接。
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("audit store not initialized")
	}
	var one int
	return s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordFromEvent 将事件转换为数据库记录。
func RecordFromEvent(ev model.DecisionEvent) DecisionRecord {
	decidedAt := ev.DecidedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now().UTC()
	}
	return DecisionRecord{
		EventID:   ev.EventID,
		BatchID:   ev.BatchID,
		AdID:      ev.AdID,
		Action:    string(ev.Action),
		Reason:    ev.Reason,
		Comment:   ev.Comment,
		Status:    string(ev.Status),
		DecidedAt: decidedAt,
	}
}
