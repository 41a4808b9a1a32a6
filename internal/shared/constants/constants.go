package constants

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"

	HeaderAuthorization = "Authorization"
	HeaderXRequestID    = "X-Request-ID"
	HeaderAPIKey        = "X-Api-Key"
	HeaderClientVersion = "X-Client-Version"

	ContentTypeJSON = "application/json"

	APIPrefix = "/api/v1"

	// ContextKeyUserID is set by the auth middleware
	ContextKeyUserID = "user_id"

	// Redis channels
	ChannelEntitlementChange = "adfree:entitlement:change"
	ChannelStoreTransactions = "adfree:store:transactions"
)
