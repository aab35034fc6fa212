package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/utils"
)

type Organization struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	OrgType   OrgType   `gorm:"type:enum('Manufacturer','Warehouse','Distributor','Shop');not null;index" json:"org_type"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Address   string    `gorm:"type:text" json:"address"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Organization) TableName() string {
	return "organizations"
}

func GetOrganization(ctx context.Context, id int) (*Organization, error) {
	return utils.FetchModel[Organization](ctx, id)
}
