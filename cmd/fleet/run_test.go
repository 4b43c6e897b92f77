package main

import "testing"

func TestClampWorkers(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		ceiling   int
		want      int
	}{
		{"default uses ceiling", 0, 8, 8},
		{"narrows below ceiling", 4, 8, 4},
		{"exact ceiling", 8, 8, 8},
		{"clamped to ceiling", 16, 8, 8},
		{"negative uses ceiling", -1, 8, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampWorkers(tt.requested, tt.ceiling); got != tt.want {
				t.Errorf("clampWorkers(%d, %d) = %d, want %d", tt.requested, tt.ceiling, got, tt.want)
			}
		})
	}
}
