package httpbridge

import "net/http"

// NewStandardClient creates a new StandardClient around a Client with
// default settings.
func NewStandardClient() *StandardClient {
	return &StandardClient{Client: NewClient()}
}

// StandardClient is a thin wrapper around Client fulfilling the Do function
// signature of http.Client, so code written against *http.Client executes
// through the bridge unmodified. Options is applied to every request it
// performs.
type StandardClient struct {
	*Client

	Options *Options
}

// Do executes the request through the bridge and fulfills the Do function
// signature of http.Client.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	bridged := &Request{
		Method:  req.Method,
		URL:     req.URL.String(),
		Header:  req.Header,
		Body:    req.Body,
		Options: c.Options,
	}
	return c.Client.do(req.Context(), bridged)
}
