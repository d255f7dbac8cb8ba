package config

const (
	EnvPrefix = "PHARMACY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	GatewaySandboxURL = "https://sandbox.sslcommerz.com"
	GatewayLiveURL    = "https://securepay.sslcommerz.com"
)

const (
	EnvAppEnv   = "PHARMACY_APP_ENV"
	EnvPort     = "PHARMACY_APP_PORT"
	EnvDBDSN    = "PHARMACY_DB_DSN"
	EnvDBHost   = "PHARMACY_DB_HOST"
	EnvDBUser   = "PHARMACY_DB_USER"
	EnvDBName   = "PHARMACY_DB_NAME"
	EnvRedisURL = "PHARMACY_REDIS_URL"

	EnvJWTSecret = "PHARMACY_JWT_SECRET"
	EnvJWTIssuer = "PHARMACY_JWT_ISSUER"

	EnvGatewayStoreID       = "PHARMACY_GATEWAY_STORE_ID"
	EnvGatewayStorePassword = "PHARMACY_GATEWAY_STORE_PASSWORD"
	EnvGatewaySandbox       = "PHARMACY_GATEWAY_SANDBOX"
	EnvGatewayCurrency      = "PHARMACY_GATEWAY_CURRENCY"
	EnvGatewayTimeout       = "PHARMACY_GATEWAY_TIMEOUT"

	EnvOrderShippingFee = "PHARMACY_ORDER_SHIPPING_FEE_CENTS"
	EnvOrderTaxBPS      = "PHARMACY_ORDER_TAX_BPS"
	EnvWorkerPoolSize   = "PHARMACY_WORKER_POOL_SIZE"
)

var dbPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
