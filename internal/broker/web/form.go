package web

import (
	"net/url"
	"strconv"
	"time"

	"commsec-trader/internal/types"
)

const (
	fieldPrefix = "ctl00$BodyPlaceHolder$OrderView1$ctl02$"

	fieldLimitPrice   = fieldPrefix + "txtOrderStyleLimitPrice$field"
	fieldAtMarket     = fieldPrefix + "cbOrderStyleAtMarket$field"
	fieldStock        = fieldPrefix + "ucSecuritySearch$txtSmartSearch$Input"
	fieldUnits        = fieldPrefix + "txtQuantityUnits$field"
	fieldValue        = fieldPrefix + "txtQuantityValue$field"
	fieldGoodForDay   = fieldPrefix + "cbExpiryGoodForDay$field"
	fieldGoodUntil    = fieldPrefix + "txtExpiryGoodUntil$field"
	fieldSRN          = fieldPrefix + "txtSRN$field"
	fieldPreview      = fieldPrefix + "btnPreview$implementation$field"
	fieldIsMLAccount  = fieldPrefix + "hidIsMLAccount"
	fieldAdviserNotes = fieldPrefix + "txtAdviserNotes$field"
	fieldTradingPwd   = fieldPrefix + "ucOrderSpecification$tradingPwd$tradingPwdCGTextBox$field"
	eventSubmitOrder  = fieldPrefix + "ucOrderSpecification$btnSubmitOrder$implementation$field"

	fieldStep3A = "ctl00$BodyPlaceHolder$OrderView1$ctl00"
	fieldStep3B = "ctl00$BodyPlaceHolder$OrderView1$ctl01"

	confPrefix     = "ctl00$BodyPlaceHolder$ConfirmationsView1$"
	fieldConfBuy   = confPrefix + "chbxBuy$field"
	fieldConfSell  = confPrefix + "chbxSell$field"
	fieldConfFrom  = confPrefix + "calendarFrom$field"
	fieldConfTo    = confPrefix + "calendarTo$field"
	eventConfAll   = confPrefix + "gdvwConfirmationDetails_Underlying$TopPagerRow$btnAll$implementation"
	fieldLogin     = "ctl00$cpContent$txtLogin"
	fieldPassword  = "ctl00$cpContent$txtPassword"
	fieldLoginBtn  = "ctl00$cpContent$btnLogin"
	fieldEvent     = "__EVENTTARGET"
	fieldViewState = "__VIEWSTATE"
)

// OrderFormOptions are the rarely changed fields of the order form.
type OrderFormOptions struct {
	// GoodForDay expires the order at the end of the trading day. When false
	// GoodUntil is sent instead and must be set.
	GoodForDay bool
	GoodUntil  time.Time
	// PriceDecimals is the precision the limit price is written with.
	PriceDecimals int32
	// Sponsored settles buys into the broker-sponsored (HIN) holding rather
	// than an issuer-sponsored one.
	Sponsored bool
	// SRN identifies an issuer-sponsored holding when selling from one.
	SRN          string
	AdviserNotes string
	// SecuritySearchYear fills the option search year the form posts back.
	// Zero uses the current year.
	SecuritySearchYear int
}

func DefaultOrderFormOptions() OrderFormOptions {
	return OrderFormOptions{GoodForDay: true, Sponsored: true, PriceDecimals: 2}
}

// step2Form fills in the order details. The viewstate from step one carries
// the brokerage and advice choices the server will not take from form
// fields.
func step2Form(t types.OrderTicket, viewState string, opts OrderFormOptions, now time.Time) url.Values {
	year := opts.SecuritySearchYear
	if year == 0 {
		year = now.In(aest).Year()
	}
	f := url.Values{
		"OrderType":         {fieldPrefix + "rboOrder" + t.Side.String() + "$field"},
		fieldStock:          {t.Stock},
		fieldUnits:          {strconv.Itoa(t.Quantity)},
		fieldValue:          {""},
		fieldSRN:            {opts.SRN},
		fieldPreview:        {"Proceed"},
		fieldIsMLAccount:    {"False"},
		fieldAdviserNotes:   {opts.AdviserNotes},
		fieldEvent:          {""},
		fieldViewState:      {viewState},
		"ctl00$ucSecuritySearch$txtOptionParent$field":   {""},
		"ctl00$ucSecuritySearch$ddlExpiryMonth$field":    {"0"},
		"ctl00$ucSecuritySearch$ddlExpiryYear$field":     {strconv.Itoa(year)},
		"ctl00$ucSecuritySearch$ddlOptionStrat$field":    {"Both"},
		"ctl00$ucSecuritySearch$ddlOptionExercise$field": {"A"},
	}

	if t.LimitPrice == nil {
		f.Set(fieldLimitPrice, "")
		f.Set(fieldAtMarket, "on")
	} else {
		f.Set(fieldLimitPrice, t.LimitPrice.StringFixed(opts.PriceDecimals))
	}

	if opts.GoodForDay {
		f.Set(fieldGoodForDay, "on")
	} else {
		f.Set(fieldGoodUntil, opts.GoodUntil.In(aest).Format("02/01/2006"))
	}

	if t.Side == types.Buy {
		settlement := "rdoIssuer"
		if opts.Sponsored {
			settlement = "rdoSponsored"
		}
		f.Set("Settlement", fieldPrefix+settlement+"$field")
	}
	return f
}

func step3Form(st types.FormState, tradingPassword string) url.Values {
	return url.Values{
		fieldStep3A:     {st.Hidden[fieldStep3A]},
		fieldStep3B:     {st.Hidden[fieldStep3B]},
		fieldTradingPwd: {tradingPassword},
		fieldViewState:  {st.Token},
		fieldEvent:      {eventSubmitOrder},
	}
}

func loginForm(creds types.Credentials) url.Values {
	return url.Values{
		fieldLogin:    {creds.ClientID},
		fieldPassword: {creds.Password},
		fieldLoginBtn: {""},
		fieldEvent:    {""},
	}
}

func confirmationsForm(viewState string, from, to time.Time) url.Values {
	return url.Values{
		fieldConfBuy:   {"on"},
		fieldConfSell:  {"on"},
		fieldConfFrom:  {formatDate(from)},
		fieldConfTo:    {formatDate(to)},
		fieldViewState: {viewState},
		fieldEvent:     {eventConfAll},
	}
}
