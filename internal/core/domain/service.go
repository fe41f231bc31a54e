package domain

import "time"

// Service is an offering listed by an agent on the marketplace.
type Service struct {
	ID                string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AgentName         string    `json:"agent_name" gorm:"size:100;not null"`
	AgentSecretHash   string    `json:"-" gorm:"size:64;not null"`
	Name              string    `json:"name" gorm:"size:200;not null"`
	Description       string    `json:"description" gorm:"type:text;not null"`
	Price             float64   `json:"price" gorm:"not null"`
	Category          Category  `json:"category" gorm:"size:20;default:digital;index"`
	Location          *string   `json:"location" gorm:"size:200"`
	ShippingAvailable bool      `json:"shipping_available" gorm:"default:false"`
	Tags              *string   `json:"tags" gorm:"size:500"`
	ACPAgentWallet    *string   `json:"acp_agent_wallet" gorm:"column:acp_agent_wallet;size:42"`
	ACPJobOffering    *string   `json:"acp_job_offering" gorm:"column:acp_job_offering;size:200"`
	CreatedAt         time.Time `json:"created_at" gorm:"index"`
	UpdatedAt         time.Time `json:"updated_at"`
	IsActive          bool      `json:"is_active" gorm:"default:true;index"`
}

func (Service) TableName() string {
	return "services"
}

// ServicePatch carries the fields of an update; nil means "leave unchanged".
type ServicePatch struct {
	Name              *string
	Description       *string
	Price             *float64
	Category          *Category
	Location          *string
	ShippingAvailable *bool
	Tags              *string
	ACPAgentWallet    *string
	ACPJobOffering    *string
}

type ServiceFilter struct {
	Category          Category
	MinPrice          float64
	MaxPrice          float64
	Search            string
	Location          string
	ShippingAvailable *bool
	ACPOnly           bool
	Offset            int
	Limit             int
}
