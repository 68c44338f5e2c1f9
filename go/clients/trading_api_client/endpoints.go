package trading_api_client

const (
	// Base URL
	DefaultBaseURL = "http://127.0.0.1:5500/api"

	// API Endpoints
	ServerTimeEndpoint   = "/server-time"
	PairsEndpoint        = "/pairs"
	BalanceEndpoint      = "/balance"
	RoundsEndpoint       = "/rounds"
	ActiveRoundsEndpoint = "/rounds/active"
	FinishRoundEndpoint  = "/rounds/%s/finish"
	WinRateEndpoint      = "/win-rate"
	AdminWinRateEndpoint = "/admin/win-rate"
	PriceEndpoint        = "/price/%d"
)
