package api

// Route constants for the API endpoints.

const (
	// Health endpoint
	PingEndpoint = "/ping"

	// Name enquiry endpoint
	NameEnquiryEndpoint = "/nec" // POST: resolve a destination account name

	// Funds transfer endpoints
	FundsTransferEndpoint = "/ft" // POST: initiate a two-leg transfer

	// Status query endpoint
	StatusQueryEndpoint = "/tsq" // POST: query transaction status by reference

	// Transaction lookup
	TransactionIDParam  = "id"
	TransactionEndpoint = "/transactions/{" + TransactionIDParam + "}" // GET: fetch a transaction by id

	// Inbound GIP callback endpoint
	CallbackEndpoint = "/callback" // POST: receive a GIP async callback
)

// LogExcludedPrefixes defines URL prefixes to exclude from request logging.
var LogExcludedPrefixes = []string{
	PingEndpoint,
}
