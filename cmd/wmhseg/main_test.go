package main

import "testing"

func TestWorkers(t *testing.T) {
	if n := workers(); n < 1 {
		t.Errorf("workers() = %d, want >= 1", n)
	}
}
