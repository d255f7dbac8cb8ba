package sslcommerz

import (
	"net/url"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
)

// SessionParams describes one checkout attempt.
type SessionParams struct {
	TransactionID string
	AmountCents   int64
	SuccessURL    string
	FailURL       string
	CancelURL     string
	IPNURL        string

	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	CustomerAddress string
	CustomerCity    string
	CustomerPostal  string
	CustomerCountry string

	ProductName     string
	ProductCategory string
	ItemCount       int

	// ValueA..ValueB are echoed back on callbacks.
	ValueA string
	ValueB string
}

func (p SessionParams) validate() error {
	switch {
	case strings.TrimSpace(p.TransactionID) == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	case p.AmountCents <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	case p.SuccessURL == "" || p.FailURL == "" || p.CancelURL == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "callback urls are required")
	}
	return nil
}

func (p SessionParams) form(currency string) url.Values {
	form := url.Values{}
	form.Set("total_amount", FormatAmount(p.AmountCents))
	form.Set("currency", currency)
	form.Set("tran_id", p.TransactionID)
	form.Set("success_url", p.SuccessURL)
	form.Set("fail_url", p.FailURL)
	form.Set("cancel_url", p.CancelURL)
	if p.IPNURL != "" {
		form.Set("ipn_url", p.IPNURL)
	}

	form.Set("cus_name", fallback(p.CustomerName, "Customer"))
	form.Set("cus_email", fallback(p.CustomerEmail, "customer@example.com"))
	form.Set("cus_phone", fallback(p.CustomerPhone, "N/A"))
	form.Set("cus_add1", fallback(p.CustomerAddress, "N/A"))
	form.Set("cus_city", fallback(p.CustomerCity, "N/A"))
	form.Set("cus_postcode", fallback(p.CustomerPostal, "0000"))
	form.Set("cus_country", fallback(p.CustomerCountry, "Bangladesh"))

	form.Set("shipping_method", "Courier")
	form.Set("ship_name", fallback(p.CustomerName, "Customer"))
	form.Set("ship_add1", fallback(p.CustomerAddress, "N/A"))
	form.Set("ship_city", fallback(p.CustomerCity, "N/A"))
	form.Set("ship_postcode", fallback(p.CustomerPostal, "0000"))
	form.Set("ship_country", fallback(p.CustomerCountry, "Bangladesh"))

	items := p.ItemCount
	if items <= 0 {
		items = 1
	}
	form.Set("num_of_item", strconv.Itoa(items))
	form.Set("product_name", fallback(p.ProductName, "Medicines"))
	form.Set("product_category", fallback(p.ProductCategory, "Medicine"))
	form.Set("product_profile", "general")

	if p.ValueA != "" {
		form.Set("value_a", p.ValueA)
	}
	if p.ValueB != "" {
		form.Set("value_b", p.ValueB)
	}
	return form
}

func fallback(value, def string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return def
}

// Session is the hosted checkout handle.
type Session struct {
	SessionKey     string
	GatewayPageURL string
}

// Validation is the gateway's view of one payment attempt.
type Validation struct {
	Status            string
	TransactionID     string
	ValidationID      string
	AmountCents       int64
	Currency          string
	BankTransactionID string
	CardType          string
	RiskLevel         string
}

// Valid reports a captured payment.
func (v *Validation) Valid() bool {
	return v != nil && IsValidStatus(v.Status)
}

type sessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

type validationResponse struct {
	Status            string `json:"status"`
	TranID            string `json:"tran_id"`
	ValID             string `json:"val_id"`
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	CurrencyType      string `json:"currency_type"`
	BankTranID        string `json:"bank_tran_id"`
	CardType          string `json:"card_type"`
	RiskLevel         string `json:"risk_level"`
	CurrencyAmount    string `json:"currency_amount"`
	ValidatedOnString string `json:"validated_on"`
}

func (r validationResponse) toValidation() (*Validation, error) {
	v := &Validation{
		Status:            strings.ToUpper(strings.TrimSpace(r.Status)),
		TransactionID:     r.TranID,
		ValidationID:      r.ValID,
		Currency:          fallback(r.CurrencyType, r.Currency),
		BankTransactionID: r.BankTranID,
		CardType:          r.CardType,
		RiskLevel:         r.RiskLevel,
	}
	if !v.Valid() {
		return v, nil
	}
	amount := r.Amount
	if r.CurrencyAmount != "" {
		amount = r.CurrencyAmount
	}
	cents, err := ParseAmount(amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "gateway returned an unreadable amount")
	}
	v.AmountCents = cents
	return v, nil
}

type transactionQueryResponse struct {
	APIConnect     string               `json:"APIConnect"`
	NoOfTransFound int                  `json:"no_of_trans_found"`
	Elements       []validationResponse `json:"element"`
}
