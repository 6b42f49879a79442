// Package api is the inbound HTTP surface: name enquiry, funds transfer
// initiation, status query, transaction lookup, and the callback endpoint
// GIP posts asynchronous results to. Out of scope per spec §1 — auth and
// rate limiting are not implemented here, only routing and the response
// envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gashie/fundswitch/intake"
	"github.com/gashie/fundswitch/log"
	"github.com/gashie/fundswitch/storage"
	"github.com/gashie/fundswitch/types"
)

const maxRequestBodyLog = 512

// Config is the API HTTP server's configuration.
type Config struct {
	Host   string
	Port   int
	Store  *storage.Store
	Intake *intake.Handler
}

// API is the inbound HTTP server.
type API struct {
	router *chi.Mux
	store  *storage.Store
	intake *intake.Handler
	srv    *http.Server
}

// New builds an API and starts it listening in the background.
func New(ctx context.Context, conf *Config) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Store == nil || conf.Intake == nil {
		return nil, fmt.Errorf("missing storage or intake handler")
	}

	a := &API{store: conf.Store, intake: conf.Intake}
	a.initRouter()

	a.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		Handler: a.router,
	}

	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server failed: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
	}()

	return a, nil
}

// Router returns the chi router for testing purposes.
func (a *API) Router() *chi.Mux {
	return a.router
}

func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-API-Secret"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}

func (a *API) registerHandlers() {
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})

	log.Infow("register handler", "endpoint", NameEnquiryEndpoint, "method", "POST")
	a.router.Post(NameEnquiryEndpoint, a.nameEnquiry)

	log.Infow("register handler", "endpoint", FundsTransferEndpoint, "method", "POST")
	a.router.Post(FundsTransferEndpoint, a.fundsTransfer)

	log.Infow("register handler", "endpoint", StatusQueryEndpoint, "method", "POST")
	a.router.Post(StatusQueryEndpoint, a.statusQuery)

	log.Infow("register handler", "endpoint", TransactionEndpoint, "method", "GET")
	a.router.Get(TransactionEndpoint, a.getTransaction)

	log.Infow("register handler", "endpoint", CallbackEndpoint, "method", "POST")
	a.router.Post(CallbackEndpoint, a.gipCallback)
}

func (a *API) nameEnquiry(w http.ResponseWriter, r *http.Request) {
	var req nameEnquiryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.BankCode == "" || req.AccountNumber == "" {
		ErrMissingField.With("bankCode and accountNumber are required").Write(w)
		return
	}

	name, err := a.intake.NameEnquiry(r.Context(), intake.NameEnquiryRequest{
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		ErrNameEnquiryFailed.WithErr(err).Write(w)
		return
	}

	httpWriteJSON(w, nameEnquiryResponse{AccountName: name})
}

func (a *API) fundsTransfer(w http.ResponseWriter, r *http.Request) {
	var req fundsTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.ReferenceNumber == "" || req.InstitutionID == "" || req.Amount == "" {
		ErrMissingField.With("referenceNumber, institutionId and amount are required").Write(w)
		return
	}

	sessionID, err := a.intake.FundsTransfer(r.Context(), intake.FundsTransferRequest{
		ReferenceNumber:   req.ReferenceNumber,
		SourceBankCode:    req.SourceBankCode,
		SourceAccount:     req.SourceAccount,
		SourceName:        req.SourceName,
		DestBankCode:      req.DestBankCode,
		DestAccount:       req.DestAccount,
		DestName:          req.DestName,
		Amount:            req.Amount,
		Narration:         req.Narration,
		InstitutionID:     req.InstitutionID,
		CredentialID:      req.CredentialID,
		ClientCallbackURL: req.ClientCallbackURL,
	})
	if err != nil {
		if errors.Is(err, types.ErrDuplicateReference) {
			ErrDuplicateReference.Write(w)
			return
		}
		if errors.Is(err, types.ErrGatewayUnreachable) {
			ErrGatewayUnreachable.WithErr(err).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}

	httpWriteJSON(w, fundsTransferResponse{SessionID: sessionID})
}

func (a *API) statusQuery(w http.ResponseWriter, r *http.Request) {
	var req statusQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}
	if req.ReferenceNumber == "" || req.InstitutionID == "" {
		ErrMissingField.With("institutionId and referenceNumber are required").Write(w)
		return
	}

	result, err := a.intake.StatusQuery(r.Context(), req.InstitutionID, req.ReferenceNumber)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			ErrTransactionNotFound.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}

	httpWriteJSON(w, statusQueryResponse{
		Status:        string(result.Status),
		FTDActionCode: result.FTDActionCode,
		FTCActionCode: result.FTCActionCode,
		StatusMessage: result.StatusMessage,
	})
}

func (a *API) getTransaction(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, TransactionIDParam)
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		ErrMissingField.With("invalid transaction id").Write(w)
		return
	}

	t, err := a.store.GetTransaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			ErrTransactionNotFound.Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}

	httpWriteJSON(w, transactionResponse{
		ID:                 t.ID,
		ReferenceNumber:    t.ReferenceNumber,
		SessionID:          t.SessionID,
		Status:             string(t.Status),
		SourceBankCode:     t.SourceBankCode,
		SourceAccount:      t.SourceAccount,
		DestBankCode:       t.DestBankCode,
		DestAccount:        t.DestAccount,
		Amount:             t.Amount,
		FTDActionCode:      t.FTDActionCode,
		FTCActionCode:      t.FTCActionCode,
		ReversalAttempts:   t.ReversalAttempts,
		ReversalActionCode: t.ReversalActionCode,
	})
}

// gipCallback receives an asynchronous GIP callback, queues it for the
// Callback Processor, and returns immediately — spec §4.C and §6. It never
// touches the transaction itself; only storage.EnqueueGipCallback does.
func (a *API) gipCallback(w http.ResponseWriter, r *http.Request) {
	var req gipCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrMalformedBody.WithErr(err).Write(w)
		return
	}

	raw, err := json.Marshal(req)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}

	if _, err := a.store.EnqueueGipCallback(r.Context(), &types.GipCallback{
		SessionID:      req.SessionID,
		FunctionCode:   req.FunctionCode,
		ActionCode:     req.ActionCode,
		TrackingNumber: req.TrackingNumber,
		RawPayload:     string(raw),
	}); err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}

	httpWriteOK(w)
}
