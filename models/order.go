package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/distribution_backend/utils"
)

type Order struct {
	ID             int           `gorm:"primary_key" json:"id"`
	OrderNumber    string        `gorm:"size:50;not null;unique" json:"order_number"`
	FromOrgId      int           `gorm:"not null;index" json:"from_org_id"`
	FromOrg        *Organization `gorm:"foreignKey:FromOrgId" json:"from_org,omitempty"`
	ToOrgId        int           `gorm:"not null;index" json:"to_org_id"`
	ToOrg          *Organization `gorm:"foreignKey:ToOrgId" json:"to_org,omitempty"`
	ProductId      int           `gorm:"not null" json:"product_id"`
	Quantity       int           `gorm:"not null" json:"quantity"`
	Status         string        `gorm:"size:30;not null;default:'Open'" json:"status"`
	OrderDate      time.Time     `json:"order_date"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	return utils.FetchModel[Order](ctx, id)
}
