package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cavaliercoder/grab"
	"github.com/drnhhl/terragon/service"
	"github.com/drnhhl/terragon/service/log"
)

// ErrProductNotFound is an error returned when a product is not found or available
type ErrProductNotFound struct {
	Product string
}

func (e ErrProductNotFound) Error() string {
	return fmt.Sprintf("Product not found or unavailable: %s", e.Product)
}

func fmtBytes(bytes int64) string {
	const units = "KMGT"
	v, unit := float64(bytes), ""
	for i := 0; v >= 1024 && i < len(units); i++ {
		v, unit = v/1024, units[i:i+1]
	}
	return fmt.Sprintf("%.2f%sB", v, unit)
}

// Progress logs the progress of a transfer every <period> percent
type Progress struct {
	ctx    context.Context
	prefix string
	period float64

	mu        sync.Mutex
	size      int64
	current   int64
	next      float64
	lastBytes int64
	lastTime  time.Time
}

// NewProgress creates a Progress for a transfer of size bytes (unknown if size <= 0)
func NewProgress(ctx context.Context, prefix string, size int64, period float64) *Progress {
	return &Progress{ctx: ctx, prefix: prefix, size: size, period: period, next: period, lastTime: time.Now()}
}

// UpdateDelta adds n bytes to the transfer
func (p *Progress) UpdateDelta(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.update(p.current+n, p.size)
}

// Set updates the number of bytes transferred and the size of the transfer if it was unknown
func (p *Progress) Set(current, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size <= 0 {
		p.size = size
	}
	p.update(current, p.size)
}

func (p *Progress) update(current, size int64) {
	p.current = current
	if size <= 0 {
		return
	}
	progress := 100 * float64(current) / float64(size)
	if progress < p.next && current != size {
		return
	}
	speed := int64(0)
	if elapsed := time.Since(p.lastTime).Seconds(); elapsed > 0 {
		speed = int64(float64(current-p.lastBytes) / elapsed)
	}
	log.Logger(p.ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", p.prefix, progress, fmtBytes(current), fmtBytes(size), fmtBytes(speed))
	p.next = progress + p.period
	p.lastBytes, p.lastTime = current, time.Now()
}

// Current returns the number of bytes transferred so far
func (p *Progress) Current() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// WriteCounter reports the bytes written to it to a Progress (to be used with io.TeeReader)
type WriteCounter struct {
	Progress *Progress
}

func (wc *WriteCounter) Write(p []byte) (int, error) {
	wc.Progress.UpdateDelta(int64(len(p)))
	return len(p), nil
}

// watch reports the progress of a grab transfer every second until it is done
func watch(ctx context.Context, prefix string, resp *grab.Response, period float64) {
	progress := NewProgress(ctx, prefix, resp.Size, period)
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			progress.Set(resp.BytesComplete(), resp.Size)
		case <-resp.Done:
			return
		}
	}
}

// copyAuthOnRedirect forwards the authorization of the first request to the redirections
func copyAuthOnRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if auth := via[0].Header.Get("Authorization"); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return nil
}

// download a file with grab, logging its progress every 5%
func download(ctx context.Context, req *grab.Request, displayPrefix string, keepAuth bool) error {
	client := grab.NewClient()
	if keepAuth {
		client.HTTPClient.CheckRedirect = copyAuthOnRedirect
	}
	resp := client.Do(req)
	watch(ctx, displayPrefix, resp, 5)

	err := resp.Err()
	if err == nil {
		return nil
	}
	err = fmt.Errorf("download[%s]: %w", req.URL(), err)
	switch {
	case resp.HTTPResponse == nil:
		return service.MakeTemporary(err)
	case resp.HTTPResponse.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrProductNotFound{req.URL().String()}, err)
	}
	switch resp.HTTPResponse.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return service.MakeTemporary(err)
	}
	return err
}
