package models

import (
	"context"
	"time"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/utils"
)

// Student and Group are owned by the student-management subsystem.
// The finance engine reads them for existence checks, group filtering
// and debtor ranking; it never writes them.

type Student struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	GroupId   *int      `gorm:"index" json:"group_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Group struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Level     string    `gorm:"size:64" json:"level"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetStudent(ctx context.Context, id int) (*Student, error) {
	return utils.FetchSingleModel[Student](ctx, id)
}

func GetGroup(ctx context.Context, id int) (*Group, error) {
	return utils.FetchSingleModel[Group](ctx, id)
}
