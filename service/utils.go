package service

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"sync/atomic"
	"time"
)

// StringSet is a set of strings (all elements are unique)
type StringSet map[string]struct{}

// Push adds the string to the set if not already exists
func (ss StringSet) Push(s string) {
	ss[s] = struct{}{}
}

// Slice returns a slice from the set
func (ss StringSet) Slice() []string {
	sl := make([]string, 0, len(ss))
	for k := range ss {
		sl = append(sl, k)
	}
	return sl
}

// Exists returns true if the string already exists in the Set
func (ss StringSet) Exists(s string) bool {
	_, ok := ss[s]
	return ok
}

// GetBodyRetry: simple GET with N retries in case of temporary errors
func GetBodyRetry(url string, nbRetries int) ([]byte, error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("NewRequest: %w", err)
	}
	return GetBodyRetryReq(req, nbRetries)
}

// GetBodyRetryReq: simple GET with N retries in case of temporary errors
func GetBodyRetryReq(req *http.Request, nbRetries int) ([]byte, error) {
	var e *neturl.Error
	var body []byte
	var err error
	var resp *http.Response

	client := &http.Client{}
	for i := range nbRetries + 1 {
		time.Sleep(((1 << i) - 1) * time.Second) // Exponential backoff, starting at 0
		resp, err = client.Do(req)
		if err != nil {
			if !errors.As(err, &e) || !e.Temporary() {
				return nil, err
			}
			continue
		}
		defer resp.Body.Close()
		if resp.StatusCode != 200 {
			body, _ = io.ReadAll(resp.Body)
			err = fmt.Errorf("%s: %v", resp.Status, body)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, err
			}
			continue
		}
		if body, err = io.ReadAll(resp.Body); err == nil {
			return body, nil
		}
	}
	return nil, err
}

// Progress is a byte counter shared between concurrent downloads.
type Progress struct {
	total int64
	done  int64
}

// NewProgress creates a Progress expecting total bytes (0 if unknown).
func NewProgress(total int64) *Progress {
	return &Progress{total: total}
}

// UpdateDelta adds n downloaded bytes. Safe for concurrent use, no-op on nil.
func (p *Progress) UpdateDelta(n int64) {
	if p == nil {
		return
	}
	atomic.AddInt64(&p.done, n)
}

// AddTotal grows the expected total. Safe for concurrent use, no-op on nil.
func (p *Progress) AddTotal(n int64) {
	if p == nil {
		return
	}
	atomic.AddInt64(&p.total, n)
}

// Bytes returns the number of bytes downloaded so far.
func (p *Progress) Bytes() int64 {
	if p == nil {
		return 0
	}
	return atomic.LoadInt64(&p.done)
}

// Fraction returns the completion ratio in [0,1], or 0 if the total is unknown.
func (p *Progress) Fraction() float64 {
	if p == nil {
		return 0
	}
	total := atomic.LoadInt64(&p.total)
	if total <= 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&p.done)) / float64(total)
}

// FmtBytes formats a byte count for progress logs.
func FmtBytes(bytes int64) string {
	v := float64(bytes)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}
