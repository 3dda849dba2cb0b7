// Package geo resolves viewer IPs to coarse locations. Resolution is best
// effort: failures degrade to an empty location and never block view
// recording.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/flipshare/flipshare/internal/model"
)

type Provider interface {
	Lookup(ctx context.Context, ip string) (*model.Geo, error)
}

var privateBlocks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"fc00::/7",
		"fe80::/10",
		"::1/128",
	} {
		_, block, _ := net.ParseCIDR(cidr)
		privateBlocks = append(privateBlocks, block)
	}
}

func IsPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	for _, block := range privateBlocks {
		if block.Contains(parsed) {
			return true
		}
	}
	return false
}

// IPAPIProvider queries ip-api.com. The free tier allows 45 requests per
// minute; the limiter stays under that.
type IPAPIProvider struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

func NewIPAPIProvider() *IPAPIProvider {
	return &IPAPIProvider{
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(time.Minute/45), 5),
		baseURL: "http://ip-api.com/json",
	}
}

// NewIPAPIProviderWithURL is used by tests to point at a fake server.
func NewIPAPIProviderWithURL(baseURL string) *IPAPIProvider {
	p := NewIPAPIProvider()
	p.baseURL = baseURL
	return p
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	Timezone   string  `json:"timezone"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
}

func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (*model.Geo, error) {
	if IsPrivateIP(ip) {
		return nil, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s?fields=status,message,country,regionName,city,timezone,lat,lon", p.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo lookup %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo lookup %s: status %d", ip, resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("geo lookup %s: decode: %w", ip, err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("geo lookup %s: %s", ip, body.Message)
	}

	return &model.Geo{
		Country:  body.Country,
		Region:   body.RegionName,
		City:     body.City,
		Timezone: body.Timezone,
		Lat:      body.Lat,
		Lon:      body.Lon,
	}, nil
}
