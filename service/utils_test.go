package service

import (
	"sync"
	"testing"
)

func TestStringSet(t *testing.T) {
	ss := StringSet{}
	ss.Push("a")
	ss.Push("a")
	ss.Push("b")
	if len(ss.Slice()) != 2 || !ss.Exists("a") {
		t.Errorf("unexpected set: %v", ss.Slice())
	}
	if ss.Exists("c") {
		t.Errorf("c was never pushed")
	}
}

func TestProgressConcurrent(t *testing.T) {
	p := NewProgress(0)
	p.AddTotal(1000)
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				p.UpdateDelta(10)
			}
		}()
	}
	wg.Wait()
	if p.Bytes() != 1000 {
		t.Errorf("expected 1000 bytes, got %d", p.Bytes())
	}
	if p.Fraction() != 1 {
		t.Errorf("expected fraction 1, got %f", p.Fraction())
	}
}

func TestProgressNil(t *testing.T) {
	var p *Progress
	p.AddTotal(10)
	p.UpdateDelta(5)
	if p.Bytes() != 0 || p.Fraction() != 0 {
		t.Errorf("nil progress must be a no-op")
	}
}

func TestFmtBytes(t *testing.T) {
	if s := FmtBytes(3 << 20); s != "3.00Mo" {
		t.Errorf("got %s", s)
	}
	if s := FmtBytes(512); s != "512.00o" {
		t.Errorf("got %s", s)
	}
}
