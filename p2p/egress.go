package p2p

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// EgressResponse is what an external server answered to a proxied onion request.
type EgressResponse struct {
	Status     int
	StatusLine string
	Headers    [][2]string
	Body       []byte
}

// EgressError is a transport level failure of a proxied request.
type EgressError struct {
	Timeout bool
	Err     error
}

func (e *EgressError) Error() string {
	return e.Err.Error()
}

func (e *EgressError) Unwrap() error {
	return e.Err
}

// EgressClient posts onion payloads to external servers.
type EgressClient interface {
	Post(ctx context.Context, url string, body []byte) (EgressResponse, error)
}

type restyEgress struct {
	client *resty.Client
}

// newRestyEgress builds the egress client: no redirects, TLS 1.2 at least, a hard timeout.
func newRestyEgress(timeout time.Duration) *restyEgress {
	return &restyEgress{
		client: resty.New().
			SetTimeout(timeout).
			SetRedirectPolicy(resty.NoRedirectPolicy()).
			SetTLSClientConfig(&tls.Config{MinVersion: tls.VersionTLS12}),
	}
}

func (e *restyEgress) Post(ctx context.Context, url string, body []byte) (EgressResponse, error) {
	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(url)
	if err != nil {
		return EgressResponse{}, &EgressError{Timeout: isTimeout(err), Err: err}
	}

	header := resp.Header()
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)
	headers := make([][2]string, 0, len(names))
	for _, name := range names {
		for _, value := range header[name] {
			headers = append(headers, [2]string{name, value})
		}
	}
	return EgressResponse{
		Status:     resp.StatusCode(),
		StatusLine: resp.Status(),
		Headers:    headers,
		Body:       resp.Body(),
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// egressResponseToResponse keeps status, headers and body, and picks out the content type.
func egressResponseToResponse(r EgressResponse) Response {
	// "200 OK" -> "OK"
	_, phrase, _ := strings.Cut(r.StatusLine, " ")
	if phrase == "" {
		phrase = http.StatusText(r.Status)
	}
	res := Response{
		Status:  r.Status,
		Phrase:  phrase,
		Body:    string(r.Body),
		Headers: r.Headers,
	}
	for _, h := range r.Headers {
		if strings.EqualFold(h[0], "content-type") {
			res.ContentType = h[1]
		}
	}
	return res
}
