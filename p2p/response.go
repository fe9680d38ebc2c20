package p2p

import (
	"net/http"
	"strings"
	"sync"
)

const contentTypeJSON = "application/json"

// Response is the outcome of one client or onion request, independent of the transport it leaves on.
type Response struct {
	Status      int
	Phrase      string
	Body        string
	ContentType string
	Headers     [][2]string
}

type ResponseCallback func(Response)

func newResponse(status int, body string) Response {
	return Response{Status: status, Phrase: http.StatusText(status), Body: body}
}

func newJSONResponse(status int, body string) Response {
	res := newResponse(status, body)
	res.ContentType = contentTypeJSON
	return res
}

func (r Response) isJSON() bool {
	return strings.HasPrefix(strings.ToLower(r.ContentType), contentTypeJSON)
}

// replyOnce wraps cb so that only the first call goes through. Later calls are logged and dropped.
func replyOnce(name string, fn string, cb ResponseCallback) ResponseCallback {
	var once sync.Once
	return func(res Response) {
		called := false
		once.Do(func() {
			called = true
			cb(res)
		})
		if !called {
			logWarn(name, fn, "response callback invoked more than once, dropping "+res.Phrase)
		}
	}
}
