package main

import (
	"testing"
)

func TestPositiveArg(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"12", 12, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := positiveArg(tt.in, "id")
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("positiveArg(%q) = %d, %v", tt.in, got, err)
		}
	}
}

func TestCommandTree(t *testing.T) {
	want := []string{"run", "worker", "schedule", "migrate", "seed", "prune", "cancel", "sync", "preview", "credits"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, sub := range []string{"topup", "check", "verify"} {
		cmd, _, err := rootCmd.Find([]string{"credits", sub})
		if err != nil || cmd.Name() != sub {
			t.Errorf("credits %q not registered", sub)
		}
	}
}
