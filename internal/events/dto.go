package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/angelmondragon/attribution-backend/pkg/enums"
	"github.com/angelmondragon/attribution-backend/pkg/pagination"
)

const (
	defaultQueryLimit = 250
	maxQueryLimit     = 20000
)

// InsertResult reports which branch of the upsert ran.
type InsertResult struct {
	Inserted bool
	Updated  bool
}

// Patch lists the mutable columns of a tracking event. Nil pointers and empty
// strings leave the stored value untouched, so a patch never clears entity ids.
type Patch struct {
	ClickID     *string
	Value       *decimal.Decimal
	Currency    *string
	OrderID     *string
	CampaignID  string
	AdSetID     string
	AdID        string
	PayloadJSON datatypes.JSON
}

// Delivery is the outcome of one forwarding attempt.
type Delivery struct {
	Forwarded   bool
	AttemptedAt time.Time
	Error       string
}

// RangeFilter narrows QueryRange results.
type RangeFilter struct {
	EventName  enums.EventName
	Sources    []enums.EventSource
	MappedOnly bool
	Limit      int
	Offset     int
}

// UnmappedQuery pages through a store's unmapped purchases, newest first.
type UnmappedQuery struct {
	StoreID uuid.UUID
	From    time.Time
	To      time.Time
	Limit   int
	Cursor  *pagination.Cursor
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
