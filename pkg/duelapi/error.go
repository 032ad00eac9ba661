package duelapi

// ErrorResponse is the JSON body of every non-2xx gateway reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
