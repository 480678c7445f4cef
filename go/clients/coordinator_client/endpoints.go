package coordinator_client

const (
	// Default coordinator location
	DefaultServerURI = "http://rpc.mobflare.com:8080/mobflare"

	// API Endpoints
	ListEndpoint  = "/list"
	FlareEndpoint = "/flare/"

	// Defaults
	DefaultSearchRadiusKm = 2.0
	DefaultClientVersion  = 1

	// Headers
	UserAgentHeader   = "User-Agent"
	ContentTypeHeader = "Content-Type"
	ContentTypeJSON   = "application/json"
)
