package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/gashie/fundswitch/api"
	"github.com/gashie/fundswitch/config"
	"github.com/gashie/fundswitch/gip"
	"github.com/gashie/fundswitch/intake"
	"github.com/gashie/fundswitch/storage/dbtest"
)

type wireResponse struct {
	ActionCode      string `json:"actionCode"`
	TrackingNumber  string `json:"trackingNumber"`
	DestinationName string `json:"destinationName"`
}

type envelope struct {
	ResponseCode    int             `json:"responseCode"`
	ResponseMessage string          `json:"responseMessage"`
	Data            json.RawMessage `json:"data"`
}

func newTestAPI(t *testing.T, gwURL string) http.Handler {
	store := dbtest.New(t)
	gipClient := gip.New(gwURL, 5*time.Second)
	h := intake.New(store, gipClient, config.TimeoutConfig{FTD: time.Hour, FTC: time.Hour})

	a, err := api.New(context.Background(), &api.Config{
		Host: "127.0.0.1", Port: 0, Store: store, Intake: h,
	})
	qt.New(t).Assert(err, qt.IsNil)
	return a.Router()
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		qt.New(t).Assert(json.NewEncoder(&buf).Encode(body), qt.IsNil)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		qt.New(t).Assert(json.Unmarshal(rec.Body.Bytes(), &env), qt.IsNil)
	}
	return rec, env
}

func TestPingEndpoint(t *testing.T) {
	c := qt.New(t)
	router := newTestAPI(t, "http://127.0.0.1:0")

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	c.Assert(rec.Code, qt.Equals, http.StatusOK)
}

func TestNameEnquiryEndpoint(t *testing.T) {
	c := qt.New(t)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{ActionCode: "000", DestinationName: "Kojo Asante"})
	}))
	defer gw.Close()

	router := newTestAPI(t, gw.URL)

	rec, env := doJSON(t, router, http.MethodPost, "/nec", map[string]string{
		"bankCode": "002", "accountNumber": "2000000002",
	})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
	c.Assert(env.ResponseCode, qt.Equals, 0)

	var data struct {
		AccountName string `json:"accountName"`
	}
	c.Assert(json.Unmarshal(env.Data, &data), qt.IsNil)
	c.Assert(data.AccountName, qt.Equals, "Kojo Asante")
}

func TestNameEnquiryEndpointMissingField(t *testing.T) {
	c := qt.New(t)
	router := newTestAPI(t, "http://127.0.0.1:0")

	rec, _ := doJSON(t, router, http.MethodPost, "/nec", map[string]string{"bankCode": "002"})
	c.Assert(rec.Code, qt.Equals, http.StatusBadRequest)
}

func TestFundsTransferEndpoint(t *testing.T) {
	c := qt.New(t)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{ActionCode: "000", TrackingNumber: "trk-1"})
	}))
	defer gw.Close()

	router := newTestAPI(t, gw.URL)

	rec, env := doJSON(t, router, http.MethodPost, "/ft", map[string]string{
		"referenceNumber": "api-ref-001", "sourceBankCode": "001", "sourceAccount": "1000000001",
		"destBankCode": "002", "destAccount": "2000000002", "amount": "100.00",
		"institutionId": "inst-1", "credentialId": "cred-1",
		"clientCallbackUrl": "https://institution.example/callback",
	})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	var data struct {
		SessionID string `json:"sessionId"`
	}
	c.Assert(json.Unmarshal(env.Data, &data), qt.IsNil)
	c.Assert(data.SessionID, qt.Not(qt.Equals), "")
}

func TestFundsTransferEndpointDuplicateReference(t *testing.T) {
	c := qt.New(t)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{ActionCode: "000"})
	}))
	defer gw.Close()

	router := newTestAPI(t, gw.URL)
	body := map[string]string{
		"referenceNumber": "api-ref-002", "sourceBankCode": "001", "sourceAccount": "1000000001",
		"destBankCode": "002", "destAccount": "2000000002", "amount": "100.00",
		"institutionId": "inst-1", "credentialId": "cred-1",
		"clientCallbackUrl": "https://institution.example/callback",
	}

	rec, _ := doJSON(t, router, http.MethodPost, "/ft", body)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)

	rec, _ = doJSON(t, router, http.MethodPost, "/ft", body)
	c.Assert(rec.Code, qt.Equals, http.StatusConflict)
}

func TestStatusQueryEndpointNotFound(t *testing.T) {
	c := qt.New(t)
	router := newTestAPI(t, "http://127.0.0.1:0")

	rec, _ := doJSON(t, router, http.MethodPost, "/tsq", map[string]string{"institutionId": "inst-1", "referenceNumber": "missing-ref"})
	c.Assert(rec.Code, qt.Equals, http.StatusNotFound)
}

func TestGetTransactionEndpoint(t *testing.T) {
	c := qt.New(t)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(wireResponse{ActionCode: "000"})
	}))
	defer gw.Close()

	router := newTestAPI(t, gw.URL)
	_, env := doJSON(t, router, http.MethodPost, "/ft", map[string]string{
		"referenceNumber": "api-ref-003", "sourceBankCode": "001", "sourceAccount": "1000000001",
		"destBankCode": "002", "destAccount": "2000000002", "amount": "100.00",
		"institutionId": "inst-1", "credentialId": "cred-1",
		"clientCallbackUrl": "https://institution.example/callback",
	})
	_ = env

	// Each test gets a fresh database, so the transfer above is row 1.
	rec, _ := doJSON(t, router, http.MethodGet, "/transactions/1", nil)
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
}

func TestGipCallbackEndpointAccepted(t *testing.T) {
	c := qt.New(t)
	router := newTestAPI(t, "http://127.0.0.1:0")

	rec, _ := doJSON(t, router, http.MethodPost, "/callback", map[string]string{
		"sessionId": "sess-unknown", "functionCode": "241", "actionCode": "000",
		"trackingNumber": "trk-1",
	})
	c.Assert(rec.Code, qt.Equals, http.StatusOK)
}
