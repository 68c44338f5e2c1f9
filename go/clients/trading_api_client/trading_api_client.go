package trading_api_client

import (
	"github.com/mcdev12/roundclient/go/clients"
	"github.com/shopspring/decimal"
)

func init() {
	// The backend expects plain JSON numbers for money fields.
	decimal.MarshalJSONWithoutQuotes = true
}

// TradingApiClient talks to the trading backend over plain JSON/HTTP.
type TradingApiClient struct {
	*clients.BaseClient
}

func NewTradingApiClient(baseURL string) *TradingApiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &TradingApiClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
}
