package locator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// StaticProvider reports a fixed position. Used when no live position feed
// is configured.
type StaticProvider struct {
	Lat float64
	Lon float64
}

func (p *StaticProvider) Current(ctx context.Context) (Sample, error) {
	return Sample{Latitude: p.Lat, Longitude: p.Lon}, nil
}

func (p *StaticProvider) Watch(ctx context.Context, interval time.Duration) (<-chan Sample, error) {
	out := make(chan Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- Sample{Latitude: p.Lat, Longitude: p.Lon}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// HTTPProvider polls a local position feed, typically a gpsd bridge exposing
// the latest fix as JSON.
type HTTPProvider struct {
	url  string
	http *http.Client
}

// NewHTTPProvider creates a provider reading fixes from the given URL.
func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		url:  url,
		http: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *HTTPProvider) Current(ctx context.Context) (Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Sample{}, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return Sample{}, fmt.Errorf("position fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Sample{}, fmt.Errorf("position fetch: unexpected status %d", resp.StatusCode)
	}
	var fix struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&fix); err != nil {
		return Sample{}, fmt.Errorf("position decode: %w", err)
	}
	return Sample{Latitude: fix.Latitude, Longitude: fix.Longitude}, nil
}

// Watch polls Current at the given cadence. Fetch failures skip the tick so
// the loop never forwards a stale or zero fix.
func (p *HTTPProvider) Watch(ctx context.Context, interval time.Duration) (<-chan Sample, error) {
	out := make(chan Sample)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s, err := p.Current(ctx)
				if err != nil {
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
