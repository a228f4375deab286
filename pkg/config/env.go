package config

const EnvPrefix = "TRADELOOP"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv                  = "TRADELOOP_APP_ENV"
	EnvPort                    = "TRADELOOP_APP_PORT"
	EnvDBDSN                   = "TRADELOOP_DB_DSN"
	EnvDBHost                  = "TRADELOOP_DB_HOST"
	EnvDBUser                  = "TRADELOOP_DB_USER"
	EnvDBName                  = "TRADELOOP_DB_NAME"
	EnvDBPassword              = "TRADELOOP_DB_PASSWORD"
	EnvRedisURL                = "TRADELOOP_REDIS_URL"
	EnvJWTSecret               = "TRADELOOP_JWT_SECRET"
	EnvJWTIssuer               = "TRADELOOP_JWT_ISSUER"
	EnvDeliveryFeeCents        = "TRADELOOP_CHECKOUT_DELIVERY_FEE_CENTS"
	EnvAdditionalShopFeeCents  = "TRADELOOP_CHECKOUT_ADDITIONAL_SHOP_FEE_CENTS"
	EnvDeliveryBroadcastWindow = "TRADELOOP_CHECKOUT_DELIVERY_BROADCAST_WINDOW"
	EnvOffersTTL               = "TRADELOOP_OFFERS_TTL"
	EnvP2PShippingFeeCents     = "TRADELOOP_P2P_SHIPPING_FEE_CENTS"
	EnvEnforceOfferExpiry      = "TRADELOOP_FEATURE_ENFORCE_OFFER_EXPIRY"
)
