package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shpitdev/docfetch/internal/mockportal"
)

func main() {
	addr := defaultString("MOCK_PORTAL_ADDR", ":8090")
	pin := defaultString("MOCK_PORTAL_PIN", "482913")
	rejectHEAD := strings.EqualFold(defaultString("MOCK_PORTAL_REJECT_HEAD", "false"), "true")

	fs := flag.NewFlagSet("mock-portal", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&pin, "pin", pin, "Access code the portal accepts (env: MOCK_PORTAL_PIN)")
	fs.BoolVar(&rejectHEAD, "reject-head", rejectHEAD, "Answer HEAD probes with 405 like some sender portals (env: MOCK_PORTAL_REJECT_HEAD)")
	_ = fs.Parse(os.Args[1:])

	srv := mockportal.New(pin)
	srv.RejectHEAD(rejectHEAD)

	_, _ = fmt.Fprintf(os.Stdout, "mock-portal listening on %s (portal=/portal direct=/files/statement.pdf)\n", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
