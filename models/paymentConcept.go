package models

import (
	"context"
	"errors"
	"time"

	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/config"
	"github.com/AcademiQERP/altumx-sistema-estable-2025-sub000/utils"
)

// PaymentConcept is the fee a debt or payment is charged under
// (monthly tuition, enrollment, insurance, ...). Administrative edits are
// allowed; a concept is never deleted while a debt or payment references it.
type PaymentConcept struct {
	ID              int                    `gorm:"primary_key" json:"id"`
	Name            string                 `gorm:"size:255;not null" json:"name" binding:"required"`
	ApplicableLevel *string                `gorm:"size:64" json:"applicable_level,omitempty"`
	ApplicationType ConceptApplicationType `gorm:"type:enum('recurring-monthly','one-time');not null;default:'one-time'" json:"application_type"`
	CreatedAt       time.Time              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time              `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetPaymentConcept(ctx context.Context, id int) (*PaymentConcept, error) {
	return utils.FetchSingleModel[PaymentConcept](ctx, id)
}

func GetAllPaymentConcepts(ctx context.Context) ([]*PaymentConcept, error) {
	return utils.FetchAllModels[PaymentConcept](ctx)
}

func DeletePaymentConcept(ctx context.Context, id int) error {
	db := config.GetDB()

	var referenced int64
	if err := db.WithContext(ctx).Model(&Debt{}).Where("concept_id = ?", id).Count(&referenced).Error; err != nil {
		return err
	}
	if referenced == 0 {
		if err := db.WithContext(ctx).Model(&Payment{}).Where("concept_id = ?", id).Count(&referenced).Error; err != nil {
			return err
		}
	}
	if referenced > 0 {
		return errors.New("payment concept is referenced by debts or payments and cannot be deleted")
	}

	return db.WithContext(ctx).Delete(&PaymentConcept{}, id).Error
}
