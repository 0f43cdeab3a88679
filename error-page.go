package forwardproxy

import (
	"fmt"
	"strconv"

	"github.com/always-cache/forward-proxy/pkg/message"
)

// errorPage builds the HTML response the proxy sends for errors it reports itself.
func errorPage(cause string, status int, reason, explanation string) *message.Response {
	body := "<html><title>Proxy Error</title>" +
		"<body bgcolor=ffffff>\r\n" +
		fmt.Sprintf("%d: %s\r\n", status, reason) +
		fmt.Sprintf("<p>%s: %s\r\n", explanation, cause) +
		"<hr><em>The Proxy Web server</em>\r\n"

	res := &message.Response{
		Proto:      "HTTP/1.0",
		StatusCode: status,
		Reason:     reason,
		Body:       []byte(body),
	}
	res.Header.Add("Content-type", "text/html")
	res.Header.Add("Content-length", strconv.Itoa(len(body)))
	return res
}

func notImplementedPage(method string) *message.Response {
	return errorPage(method, 501, "Not Implemented", "Proxy does not implement this method")
}

func payloadTooLargePage(cause string) *message.Response {
	return errorPage(cause, 413, "Payload Too Large", "Binary file too big")
}
