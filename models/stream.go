package models

import (
	"time"

	"github.com/streamops/sqlgate/pkg/ctx"

	"github.com/pkg/errors"
	"github.com/toolkits/pkg/str"
)

const (
	StreamStatusRunning    = "running"
	StreamStatusTerminated = "terminated"
	StreamStatusFailed     = "failed"
)

// Stream is the metadata row of one persistent query. The SQL column holds
// the user's SELECT; the engine-side CSAS statement is derived from it at
// creation time.
type Stream struct {
	Id            int64  `json:"id" gorm:"primaryKey"`
	Name          string `json:"name" gorm:"size:191;not null;uniqueIndex"`
	Sql           string `json:"sql" gorm:"column:sql;type:text;not null"`
	EngineQueryId string `json:"engine_query_id" gorm:"size:191;not null;default:''"`
	Status        string `json:"status" gorm:"size:32;not null;default:'running'"`
	Note          string `json:"note" gorm:"size:1024;not null;default:''"`
	CreatedAt     int64  `json:"created_at"`
	CreatedBy     string `json:"created_by" gorm:"size:64;not null;default:''"`
	UpdatedAt     int64  `json:"updated_at"`
	UpdatedBy     string `json:"updated_by" gorm:"size:64;not null;default:''"`
}

func (s *Stream) TableName() string {
	return "stream"
}

func (s *Stream) Verify() error {
	if str.Dangerous(s.Name) {
		return errors.New("stream name has invalid characters")
	}
	return nil
}

func (s *Stream) Add(ctx *ctx.Context) error {
	if err := s.Verify(); err != nil {
		return err
	}

	now := time.Now().Unix()
	s.CreatedAt = now
	s.UpdatedAt = now
	return Insert(ctx, s)
}

func (s *Stream) Update(ctx *ctx.Context, selectField interface{}, selectFields ...interface{}) error {
	s.UpdatedAt = time.Now().Unix()
	return DB(ctx).Model(s).Select(selectField, selectFields...).Updates(s).Error
}

func StreamGet(ctx *ctx.Context, where string, args ...interface{}) (*Stream, error) {
	var lst []*Stream
	err := DB(ctx).Where(where, args...).Find(&lst).Error
	if err != nil {
		return nil, err
	}

	if len(lst) == 0 {
		return nil, nil
	}

	return lst[0], nil
}

func StreamGetById(ctx *ctx.Context, id int64) (*Stream, error) {
	return StreamGet(ctx, "id = ?", id)
}

func StreamGets(ctx *ctx.Context, status, createdBy string) ([]Stream, error) {
	session := DB(ctx).Order("name")
	if status != "" {
		session = session.Where("status = ?", status)
	}
	if createdBy != "" {
		session = session.Where("created_by = ?", createdBy)
	}

	var lst []Stream
	err := session.Find(&lst).Error
	return lst, err
}

func StreamCountByName(ctx *ctx.Context, name string) (int64, error) {
	return Count(DB(ctx).Model(&Stream{}).Where("name = ?", name))
}

func StreamDel(ctx *ctx.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return DB(ctx).Where("id in ?", ids).Delete(new(Stream)).Error
}
