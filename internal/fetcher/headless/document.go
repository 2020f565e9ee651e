package headless

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/docucrawl/internal/crawler"
)

// documentTracker remembers the last main-document response seen in a tab.
// Every redirect hop replaces the previous one.
type documentTracker struct {
	last atomic.Pointer[documentResponse]
}

type documentResponse struct {
	id      network.RequestID
	url     string
	status  int
	headers http.Header
}

// observe is a chromedp target listener.
func (d *documentTracker) observe(ev any) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument || e.Response == nil {
		return
	}
	d.last.Store(&documentResponse{
		id:      e.RequestID,
		url:     e.Response.URL,
		status:  int(e.Response.Status),
		headers: httpHeaders(e.Response.Headers),
	})
}

func (d *documentTracker) requestID() network.RequestID {
	if doc := d.last.Load(); doc != nil {
		return doc.id
	}
	return ""
}

// response describes the document without its body. With no document event
// the status defaults to 200 and the URL to location, then requested.
func (d *documentTracker) response(requested, location string) crawler.FetchResponse {
	resp := crawler.FetchResponse{URL: location, StatusCode: http.StatusOK, Headers: http.Header{}}
	if resp.URL == "" {
		resp.URL = requested
	}
	doc := d.last.Load()
	if doc == nil {
		return resp
	}
	if doc.url != "" {
		resp.URL = doc.url
	}
	if doc.status != 0 {
		resp.StatusCode = doc.status
	}
	resp.Headers = doc.headers.Clone()
	return resp
}

// httpHeaders converts DevTools headers, whose values may be strings or lists.
func httpHeaders(src network.Headers) http.Header {
	h := make(http.Header, len(src))
	for name, value := range src {
		switch v := value.(type) {
		case string:
			h.Add(name, v)
		case []string:
			for _, s := range v {
				h.Add(name, s)
			}
		case []any:
			for _, s := range v {
				h.Add(name, fmt.Sprint(s))
			}
		default:
			h.Add(name, fmt.Sprint(v))
		}
	}
	return h
}
