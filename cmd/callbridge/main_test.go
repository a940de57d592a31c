package main

import (
	"testing"
	"time"
)

func TestJanitorInterval(t *testing.T) {
	cases := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{timeout: 60 * time.Second, want: 5 * time.Second},
		{timeout: 8 * time.Second, want: 2 * time.Second},
		{timeout: 2 * time.Second, want: time.Second},
	}
	for _, tc := range cases {
		if got := janitorInterval(tc.timeout); got != tc.want {
			t.Fatalf("janitorInterval(%v) = %v, want %v", tc.timeout, got, tc.want)
		}
	}
}

func TestRootCommandWiresSubcommands(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"serve", "call"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("Find(%q) = %v, %v", name, cmd, err)
		}
	}
	if f := root.PersistentFlags().Lookup("env-file"); f == nil {
		t.Fatal("missing --env-file flag")
	}
}
