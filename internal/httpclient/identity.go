package httpclient

import (
	"fmt"
	"net/http"
	"strings"

	"SwapRunner/internal/jitter"
)

type browserProfile struct {
	brand    string
	version  int
	platform string
	uaOS     string
}

var profiles = []browserProfile{
	{brand: "Brave", version: 136, platform: "Windows", uaOS: "Windows NT 10.0; Win64; x64"},
	{brand: "Google Chrome", version: 136, platform: "Windows", uaOS: "Windows NT 10.0; Win64; x64"},
	{brand: "Google Chrome", version: 135, platform: "macOS", uaOS: "Macintosh; Intel Mac OS X 10_15_7"},
	{brand: "Microsoft Edge", version: 136, platform: "Windows", uaOS: "Windows NT 10.0; Win64; x64"},
	{brand: "Google Chrome", version: 134, platform: "Linux", uaOS: "X11; Linux x86_64"},
	{brand: "Brave", version: 135, platform: "macOS", uaOS: "Macintosh; Intel Mac OS X 10_15_7"},
}

var acceptLanguages = []string{
	"en-US,en;q=0.5",
	"en-US,en;q=0.9",
	"en-GB,en;q=0.8,en-US;q=0.6",
	"en-US,en;q=0.9,de;q=0.7",
	"en-US,en;q=0.8,fr;q=0.6",
}

// Identity is the browser fingerprint presented by one client.
type Identity struct {
	UserAgent      string
	AcceptLanguage string
	SecCHUA        string
	Platform       string
}

func randomIdentity(rnd *jitter.Source) Identity {
	p := profiles[rnd.IntN(len(profiles))]
	ua := fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36", p.uaOS, p.version)
	if p.brand == "Microsoft Edge" {
		ua += fmt.Sprintf(" Edg/%d.0.0.0", p.version)
	}
	return Identity{
		UserAgent:      ua,
		AcceptLanguage: acceptLanguages[rnd.IntN(len(acceptLanguages))],
		SecCHUA:        fmt.Sprintf(`"Chromium";v="%d", "%s";v="%d", "Not.A/Brand";v="99"`, p.version, p.brand, p.version),
		Platform:       p.platform,
	}
}

func (id Identity) header(site string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Content-Type", "application/json")
	h.Set("Accept-Language", id.AcceptLanguage)
	h.Set("User-Agent", id.UserAgent)
	h.Set("Priority", "u=1, i")
	h.Set("Sec-CH-UA", id.SecCHUA)
	h.Set("Sec-CH-UA-Mobile", "?0")
	h.Set("Sec-CH-UA-Platform", `"`+id.Platform+`"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "cross-site")
	h.Set("Sec-GPC", "1")
	if site = strings.TrimRight(site, "/"); site != "" {
		h.Set("Origin", site)
		h.Set("Referer", site+"/")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	}
	return h
}
