package models

// Zoho services a token can belong to.
const (
	ServiceCRM       = "crm"
	ServiceInventory = "inventory"
	ServiceBooks     = "books"
	ServiceCampaigns = "campaigns"
)

// Local entity types that can be queued.
const (
	ObjectCustomer = "customer"
	ObjectOrder    = "order"
	ObjectProduct  = "product"
	ObjectCoupon   = "coupon"
	ObjectInvoice  = "invoice"
)

const (
	SyncCreate = "create"
	SyncUpdate = "update"
	SyncDelete = "delete"
)

// Queue task statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusFailed     = "failed"
	StatusCompleted  = "completed"
)

// Mapping directions.
const (
	DirectionLocalToRemote = "local_to_remote"
	DirectionRemoteToLocal = "remote_to_local"
	DirectionBidirectional = "bidirectional"
)

// CustomFieldSentinel marks a mapping whose local side is custom metadata named by CustomKey.
const CustomFieldSentinel = "custom_field"

// Log levels of the sync log.
const (
	LevelDebug   = "debug"
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

const (
	DefaultPriority    = 10
	DefaultMaxAttempts = 3
	DefaultTokenType   = "Bearer"

	// DefaultRefreshMargin is how long before expiry a token is treated as expired, in seconds.
	DefaultRefreshMargin = 60

	// DefaultLeaseTimeout is how long a processing lease is honoured, in seconds.
	DefaultLeaseTimeout = 10 * 60

	// OAuthStateTTL is the lifetime of a pending authorization state, in seconds.
	OAuthStateTTL = 10 * 60

	// MappingCacheTTL is the lifetime of cached mapping lists, in seconds.
	MappingCacheTTL = 5 * 60

	// SchemaCacheTTL is the lifetime of cached remote field lists, in seconds.
	SchemaCacheTTL = 60 * 60

	DefaultBatchSize = 20
)

var Services = []string{ServiceCRM, ServiceInventory, ServiceBooks, ServiceCampaigns}

var ObjectTypes = []string{ObjectCustomer, ObjectOrder, ObjectProduct, ObjectCoupon, ObjectInvoice}

func IsValidService(s string) bool {
	for _, v := range Services {
		if v == s {
			return true
		}
	}
	return false
}

func IsValidObjectType(s string) bool {
	for _, v := range ObjectTypes {
		if v == s {
			return true
		}
	}
	return false
}

func IsValidSyncType(s string) bool {
	return s == SyncCreate || s == SyncUpdate || s == SyncDelete
}

func IsValidDirection(s string) bool {
	return s == DirectionLocalToRemote || s == DirectionRemoteToLocal || s == DirectionBidirectional
}
