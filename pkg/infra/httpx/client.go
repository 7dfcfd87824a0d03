package httpx

import "net/http"

// Client is satisfied by *http.Client and by FastHTTPClient.
//
//go:generate mockery --name=Client --dir=. --output=./mocks --filename=http_client_mock.go --case=underscore --with-expecter
type Client interface {
	Do(req *http.Request) (*http.Response, error)
}

// IdleCloser is implemented by clients holding a connection pool.
type IdleCloser interface {
	CloseIdleConnections()
}
