package sslcommerz

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/angelmondragon/pharmacy-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/pharmacy-backend/pkg/errors"
	"github.com/angelmondragon/pharmacy-backend/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.GatewayConfig{
		StoreID:       "store1",
		StorePassword: "secret@ssl",
		Sandbox:       true,
		BaseURL:       srv.URL,
		Currency:      "bdt",
	}
	client, err := NewClient(context.Background(), cfg, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func sessionParams() SessionParams {
	return SessionParams{
		TransactionID: "TXN-ABC",
		AmountCents:   12050,
		SuccessURL:    "https://api.test/api/v1/payments/success",
		FailURL:       "https://api.test/api/v1/payments/fail",
		CancelURL:     "https://api.test/api/v1/payments/cancel",
		IPNURL:        "https://api.test/api/v1/payments/ipn",
		CustomerName:  "Rahim",
		ItemCount:     2,
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	if _, err := NewClient(context.Background(), config.GatewayConfig{StorePassword: "x"}, logg); err == nil {
		t.Fatal("expected missing store id error")
	}
	if _, err := NewClient(context.Background(), config.GatewayConfig{StoreID: "x"}, logg); err == nil {
		t.Fatal("expected missing password error")
	}
	if _, err := NewClient(context.Background(), config.GatewayConfig{StoreID: "x", StorePassword: "y"}, nil); err == nil {
		t.Fatal("expected missing logger error")
	}
}

func TestInitiateSessionPostsForm(t *testing.T) {
	var got url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != initiatePath || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":         "SUCCESS",
			"sessionkey":     "SESS-1",
			"GatewayPageURL": "https://sandbox.test/pay/SESS-1",
		})
	})

	session, err := client.InitiateSession(context.Background(), sessionParams())
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if session.SessionKey != "SESS-1" || session.GatewayPageURL != "https://sandbox.test/pay/SESS-1" {
		t.Fatalf("unexpected session %+v", session)
	}

	expect := map[string]string{
		"store_id":     "store1",
		"store_passwd": "secret@ssl",
		"total_amount": "120.50",
		"currency":     "BDT",
		"tran_id":      "TXN-ABC",
		"num_of_item":  "2",
		"cus_name":     "Rahim",
		"ipn_url":      "https://api.test/api/v1/payments/ipn",
	}
	for key, want := range expect {
		if got.Get(key) != want {
			t.Fatalf("expected %s=%q, got %q", key, want, got.Get(key))
		}
	}
}

func TestInitiateSessionGatewayRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":       "FAILED",
			"failedreason": "Store Credential Error",
		})
	})

	_, err := client.InitiateSession(context.Background(), sessionParams())
	if !pkgerrors.HasCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

func TestInitiateSessionTransportFailureIsRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.InitiateSession(context.Background(), sessionParams())
	if !pkgerrors.HasCode(err, pkgerrors.CodeGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if !pkgerrors.IsRetryable(err) {
		t.Fatal("expected gateway error to be retryable")
	}
}

func TestInitiateSessionValidatesParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("gateway must not be called")
	})
	params := sessionParams()
	params.AmountCents = 0
	if _, err := client.InitiateSession(context.Background(), params); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateParsesAmount(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != validatePath || q.Get("val_id") != "VAL-1" || q.Get("store_id") != "store1" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":        "VALID",
			"tran_id":       "TXN-ABC",
			"val_id":        "VAL-1",
			"amount":        "120.50",
			"currency_type": "BDT",
			"bank_tran_id":  "BANK-9",
			"card_type":     "VISA-Dutch Bangla",
		})
	})

	v, err := client.Validate(context.Background(), "VAL-1")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !v.Valid() || v.AmountCents != 12050 || v.TransactionID != "TXN-ABC" || v.BankTransactionID != "BANK-9" {
		t.Fatalf("unexpected validation %+v", v)
	}
}

func TestValidateInvalidTransaction(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "INVALID_TRANSACTION"})
	})

	v, err := client.Validate(context.Background(), "VAL-bogus")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.Valid() {
		t.Fatal("expected invalid validation")
	}
}

func TestQueryTransactionReturnsElements(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tranQueryPath || r.URL.Query().Get("tran_id") != "TXN-ABC" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = io.WriteString(w, `{"APIConnect":"DONE","no_of_trans_found":2,"element":[
			{"status":"FAILED","tran_id":"TXN-ABC","val_id":""},
			{"status":"VALIDATED","tran_id":"TXN-ABC","val_id":"VAL-2","amount":"99.99"}
		]}`)
	})

	got, err := client.QueryTransaction(context.Background(), "TXN-ABC")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(got))
	}
	if got[0].Valid() || !got[1].Valid() || got[1].AmountCents != 9999 {
		t.Fatalf("unexpected elements %+v", got)
	}
}

func TestAmountRoundTrip(t *testing.T) {
	cases := map[int64]string{0: "0.00", 5: "0.05", 12050: "120.50", 100000: "1000.00"}
	for cents, want := range cases {
		if got := FormatAmount(cents); got != want {
			t.Fatalf("format %d: expected %s got %s", cents, want, got)
		}
		back, err := ParseAmount(want)
		if err != nil || back != cents {
			t.Fatalf("parse %s: expected %d got %d (%v)", want, cents, back, err)
		}
	}
	if _, err := ParseAmount("abc"); err == nil {
		t.Fatal("expected parse error")
	}
}
