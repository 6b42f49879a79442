package api

// nameEnquiryRequest is the wire shape of a POST /nec body.
type nameEnquiryRequest struct {
	BankCode      string `json:"bankCode"`
	AccountNumber string `json:"accountNumber"`
}

// nameEnquiryResponse is the data payload of a successful name enquiry.
type nameEnquiryResponse struct {
	AccountName string `json:"accountName"`
}

// fundsTransferRequest is the wire shape of a POST /ft body.
type fundsTransferRequest struct {
	ReferenceNumber   string `json:"referenceNumber"`
	SourceBankCode    string `json:"sourceBankCode"`
	SourceAccount     string `json:"sourceAccount"`
	SourceName        string `json:"sourceName"`
	DestBankCode      string `json:"destBankCode"`
	DestAccount       string `json:"destAccount"`
	DestName          string `json:"destName"`
	Amount            string `json:"amount"`
	Narration         string `json:"narration"`
	InstitutionID     string `json:"institutionId"`
	CredentialID      string `json:"credentialId"`
	ClientCallbackURL string `json:"clientCallbackUrl"`
}

// fundsTransferResponse is the data payload returned after a transfer is
// accepted for processing.
type fundsTransferResponse struct {
	SessionID string `json:"sessionId"`
}

// statusQueryRequest is the wire shape of a POST /tsq body.
type statusQueryRequest struct {
	InstitutionID   string `json:"institutionId"`
	ReferenceNumber string `json:"referenceNumber"`
}

// statusQueryResponse is the data payload of a status query.
type statusQueryResponse struct {
	Status        string `json:"status"`
	FTDActionCode string `json:"ftdActionCode,omitempty"`
	FTCActionCode string `json:"ftcActionCode,omitempty"`
	StatusMessage string `json:"statusMessage,omitempty"`
}

// transactionResponse is the data payload of GET /transactions/{id}.
type transactionResponse struct {
	ID                  int64  `json:"id"`
	ReferenceNumber     string `json:"referenceNumber"`
	SessionID           string `json:"sessionId"`
	Status              string `json:"status"`
	SourceBankCode      string `json:"sourceBankCode"`
	SourceAccount       string `json:"sourceAccount"`
	DestBankCode        string `json:"destBankCode"`
	DestAccount         string `json:"destAccount"`
	Amount              string `json:"amount"`
	FTDActionCode       string `json:"ftdActionCode,omitempty"`
	FTCActionCode       string `json:"ftcActionCode,omitempty"`
	ReversalAttempts    int    `json:"reversalAttempts,omitempty"`
	ReversalActionCode string `json:"reversalActionCode,omitempty"`
}

// gipCallbackRequest is the wire shape a GIP gateway posts back to
// CallbackEndpoint, spec §4.C.
type gipCallbackRequest struct {
	SessionID      string `json:"sessionId"`
	FunctionCode   string `json:"functionCode"`
	ActionCode     string `json:"actionCode"`
	TrackingNumber string `json:"trackingNumber"`
}
