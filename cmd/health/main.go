// Command health probes a running missionlog instance and exits 0 when it
// is healthy. Intended for container HEALTHCHECK directives where curl is
// not available in the image.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	base := flag.String("addr", "http://localhost:8080", "base URL of the missionlog server")
	ready := flag.Bool("ready", false, "probe /readyz instead of /healthz")
	timeout := flag.Duration("timeout", 2*time.Second, "probe timeout")
	flag.Parse()

	path := "/healthz"
	if *ready {
		path = "/readyz"
	}
	url := strings.TrimRight(*base, "/") + path

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := fasthttp.DoTimeout(req, resp, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "probe %s: %v\n", url, err)
		os.Exit(1)
	}
	if c := resp.StatusCode(); c != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "probe %s: status %d: %s\n", url, c, resp.Body())
		os.Exit(1)
	}
	fmt.Printf("%s\n", resp.Body())
}
