package mobile

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// flexString accepts a JSON string, number or bool and keeps its text.
// The service is not consistent about quoting numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) String() string { return strings.TrimSpace(string(f)) }

type envelope struct {
	RequestToken string `json:"requestToken"`
	Message      string `json:"message"`
	Status       string `json:"status"`
}

type loginAccount struct {
	AccountNumber         flexString `json:"accountNumber"`
	AccountName           string     `json:"accountName"`
	EntityName            string     `json:"entityName"`
	DefaultTradingAccount bool       `json:"defaultTradingAccount"`
}

type loginResponse struct {
	DeviceID               string         `json:"deviceId"`
	RequestToken           string         `json:"requestToken"`
	Accounts               []loginAccount `json:"accounts"`
	TradingPasswordEnabled bool           `json:"tradingPasswordEnabled"`
}

type stockInfo struct {
	Code                  string     `json:"code"`
	LastPrice             flexString `json:"lastPrice"`
	Bid                   flexString `json:"bid"`
	Offer                 flexString `json:"offer"`
	Volume                flexString `json:"volume"`
	Hash                  string     `json:"hash"`
	SensitiveAnnouncement bool       `json:"priceSensitive"`
}

type stockInfosResponse struct {
	StockInfos []stockInfo `json:"stockInfos"`
}

type message struct {
	Message string `json:"message"`
}

type validateResponse struct {
	Errors   []message `json:"errors"`
	Warnings []message `json:"warnings"`
}

// placeResponse can come back 200 with the refusal in its message lists.
type placeResponse struct {
	OrderNumber flexString `json:"orderNumber"`
	Errors      []message  `json:"errors"`
	Warnings    []message  `json:"warnings"`
}

type cancelResponse struct {
	OrderDidCancel bool `json:"orderDidCancel"`
}

type holdingsResponse struct {
	Entities []struct {
		EntityName string `json:"entityName"`
		Accounts   []struct {
			AccountNumber flexString `json:"accountNumber"`
			Holdings      []struct {
				Code           string     `json:"code"`
				AvailableUnits flexString `json:"availableUnits"`
				PurchasePrice  flexString `json:"purchasePrice"`
			} `json:"holdings"`
		} `json:"accounts"`
	} `json:"entities"`
}

type orderRow struct {
	OrderID        flexString `json:"orderId"`
	OrderNumber    flexString `json:"orderNumber"`
	Code           string     `json:"code"`
	Side           string     `json:"side"`
	Quantity       flexString `json:"quantity"`
	QuantityFilled flexString `json:"quantityFilled"`
	LimitPrice     flexString `json:"limitPrice"`
	Status         string     `json:"status"`
	CreatedAt      flexString `json:"createdAt"`
}

type ordersResponse struct {
	Orders []orderRow `json:"orders"`
}

type watchlistItem struct {
	Code      string     `json:"code"`
	LastPrice flexString `json:"lastPrice"`
	Offer     flexString `json:"offer"`
	High      flexString `json:"high"`
	Low       flexString `json:"low"`
	Volume    flexString `json:"volume"`
}

type watchlistsResponse struct {
	Lists []struct {
		ID    flexString      `json:"id"`
		Name  string          `json:"name"`
		Items []watchlistItem `json:"items"`
	} `json:"lists"`
}

type confirmationRow struct {
	ConfirmationNumber flexString `json:"confirmationNumber"`
	OrderNumber        flexString `json:"orderNumber"`
	TradeDate          string     `json:"tradeDate"`
	Side               string     `json:"side"`
	Code               string     `json:"code"`
	Units              flexString `json:"units"`
	AveragePrice       flexString `json:"averagePrice"`
	Brokerage          flexString `json:"brokerage"`
	NetValue           flexString `json:"netValue"`
	SettlementDate     string     `json:"settlementDate"`
}

type confirmationsResponse struct {
	Confirmations *[]confirmationRow `json:"confirmations"`
}

var aest = time.FixedZone("AEST", 10*60*60)

// parseDate accepts the service's date formats; bare dates are in AEST.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, aest)
}
