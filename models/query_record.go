package models

import (
	"time"

	"github.com/streamops/sqlgate/pkg/ctx"
)

const (
	QueryClassAdHoc      = "adhoc"
	QueryClassPersistent = "persistent"
)

// QueryRecord is the audit row written for every submission, admitted or
// not. Old rows are removed by the cron cleanup.
type QueryRecord struct {
	Id        int64  `json:"id" gorm:"primaryKey"`
	Uuid      string `json:"uuid" gorm:"size:64;not null;index"`
	Username  string `json:"username" gorm:"size:64;not null;index"`
	Class     string `json:"class" gorm:"size:16;not null"`
	Sql       string `json:"sql" gorm:"column:sql;type:text;not null"`
	Admitted  bool   `json:"admitted" gorm:"not null;default:0"`
	Reason    string `json:"reason" gorm:"size:512;not null;default:''"`
	CreatedAt int64  `json:"created_at" gorm:"not null;default:0;index"`
}

func (r *QueryRecord) TableName() string {
	return "query_record"
}

func (r *QueryRecord) Add(ctx *ctx.Context) error {
	r.CreatedAt = time.Now().Unix()
	return Insert(ctx, r)
}

func QueryRecordGets(ctx *ctx.Context, username string, limit int) ([]QueryRecord, error) {
	session := DB(ctx).Order("id desc").Limit(limit)
	if username != "" {
		session = session.Where("username = ?", username)
	}

	var lst []QueryRecord
	err := session.Find(&lst).Error
	return lst, err
}

func QueryRecordCleanup(ctx *ctx.Context, days int) error {
	cutoff := time.Now().Unix() - 86400*int64(days)
	return DB(ctx).Where("created_at < ?", cutoff).Delete(new(QueryRecord)).Error
}
