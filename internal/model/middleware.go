package model

import "time"

// Middleware tables owned by this service. Each pairs an external id with an
// ERP id, or records traffic the ERP has no place for.

type DraftHold struct {
	DocID     string `gorm:"column:DOC_ID;primaryKey;size:32"`
	DraftID   string `gorm:"column:DRAFT_ID;uniqueIndex;size:64;not null"`
	CreatedAt time.Time
}

func (DraftHold) TableName() string { return "SN_DRAFT_HOLD" }

type PromoMapping struct {
	GrpCod    string    `gorm:"column:GRP_COD;primaryKey;size:20"`
	ShopID    string    `gorm:"column:SHOP_ID;uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"column:EXPIRES_AT;index"`
	CreatedAt time.Time
}

func (PromoMapping) TableName() string { return "SN_PROMO" }

type StockSubscription struct {
	ID        uint      `gorm:"column:ID;primaryKey"`
	ItemNo    string    `gorm:"column:ITEM_NO;size:20;index;not null"`
	Email     string    `gorm:"column:EMAIL;size:100"`
	Phone     string    `gorm:"column:PHONE;size:25"`
	CreatedAt time.Time `gorm:"column:CREATED_AT"`
}

func (StockSubscription) TableName() string { return "SN_STOCK_NOTIFY" }

const (
	SMSDirectionIn  = "IN"
	SMSDirectionOut = "OUT"
)

type SMSLog struct {
	ID        uint      `gorm:"column:ID;primaryKey"`
	Direction string    `gorm:"column:DIRECTION;size:3;not null"`
	CustNo    string    `gorm:"column:CUST_NO;size:15;index"`
	Phone     string    `gorm:"column:PHONE;size:25;index"`
	Body      string    `gorm:"column:BODY;type:text"`
	MediaURL  string    `gorm:"column:MEDIA_URL;size:255"`
	SID       string    `gorm:"column:SID;size:64"`
	Campaign  string    `gorm:"column:CAMPAIGN;size:64"`
	ErrorCode int       `gorm:"column:ERROR_CODE"`
	CreatedAt time.Time `gorm:"column:CREATED_AT"`
}

func (SMSLog) TableName() string { return "SN_SMS" }

type DesignLead struct {
	ID        uint      `gorm:"column:ID;primaryKey"`
	CustNo    string    `gorm:"column:CUST_NO;size:15;index"`
	FstNam    string    `gorm:"column:FST_NAM;size:40"`
	LstNam    string    `gorm:"column:LST_NAM;size:40"`
	Email     string    `gorm:"column:EMAIL;size:100"`
	Phone     string    `gorm:"column:PHONE;size:25"`
	Timeline  string    `gorm:"column:TIMELINE;size:40"`
	Budget    string    `gorm:"column:BUDGET;size:40"`
	Interests string    `gorm:"column:INTERESTS;size:255"`
	Comments  string    `gorm:"column:COMMENTS;type:text"`
	CreatedAt time.Time `gorm:"column:CREATED_AT"`
}

func (DesignLead) TableName() string { return "SN_LEADS" }

type CustomerMirror struct {
	CustNo     string    `gorm:"column:CUST_NO;primaryKey;size:15"`
	ShopID     string    `gorm:"column:SHOP_ID;uniqueIndex;size:128"`
	LstSyncDat time.Time `gorm:"column:LST_SYNC_DAT"`
}

func (CustomerMirror) TableName() string { return "SN_CUST" }

type ProductMirror struct {
	ItemNo          string    `gorm:"column:ITEM_NO;primaryKey;size:20"`
	ProductID       string    `gorm:"column:PRODUCT_ID;size:128;index"`
	VariantID       string    `gorm:"column:VARIANT_ID;size:128"`
	InventoryItemID string    `gorm:"column:INVENTORY_ITEM_ID;size:128"`
	Categ           string    `gorm:"column:CATEG_COD;size:10;index"`
	LstSyncDat      time.Time `gorm:"column:LST_SYNC_DAT"`
}

func (ProductMirror) TableName() string { return "SN_PROD" }

type CollectionMirror struct {
	CollectionID string `gorm:"column:COLLECTION_ID;primaryKey;size:128"`
	Categ        string `gorm:"column:CATEG_COD;size:10;index"`
}

func (CollectionMirror) TableName() string { return "SN_COLL" }

// WebhookEvent records a webhook the gateway has already queued.
type WebhookEvent struct {
	Topic     string    `gorm:"column:TOPIC;primaryKey;size:64"`
	EventID   string    `gorm:"column:EVENT_ID;primaryKey;size:128"`
	QueuedAt  time.Time `gorm:"column:QUEUED_AT;index"`
	CreatedAt time.Time
}

func (WebhookEvent) TableName() string { return "SN_WEBHOOK_EVENT" }

// MiddlewareModels lists every middleware table.
func MiddlewareModels() []any {
	return []any{
		&DraftHold{}, &PromoMapping{}, &StockSubscription{}, &SMSLog{}, &DesignLead{},
		&CustomerMirror{}, &ProductMirror{}, &CollectionMirror{}, &WebhookEvent{},
	}
}

// MirrorModels are the tables `initialize` drops and rebuilds.
func MirrorModels() []any {
	return []any{&CustomerMirror{}, &ProductMirror{}, &CollectionMirror{}}
}
